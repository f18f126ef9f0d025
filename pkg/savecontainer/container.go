package savecontainer

import (
	"crypto/sha512"

	"github.com/ludic-games/contentfs/pkg/blobcodec"
	"github.com/ludic-games/contentfs/pkg/bytestream"
)

// Signature is the fixed 32-bit magic at the start of every save blob
// (spec §6.3).
const Signature uint32 = 0x27eadb42

// MinVersion and MaxVersion bound the save-container format version this
// package can decode.
const (
	MinVersion int32 = 3
	MaxVersion int32 = 3
)

// NonceSize is the AES-CTR nonce length used for every save blob.
const NonceSize = 12

// Container encodes and decodes save blobs against a single externally
// supplied encryption key (spec §4.1: "externally-supplied 32-byte
// key"). The key is platform/deployment-specific and is never persisted
// alongside the blob.
type Container struct {
	key [32]byte
}

// New constructs a Container bound to the given 32-byte AES key.
func New(key [32]byte) *Container {
	return &Container{key: key}
}

// Encode serialises metadata plus the two data trees into an encrypted,
// compressed, checksummed blob (spec §4.6, §6.3). saveData and
// pendingDelta may be any CBOR-marshallable value, including nil.
func (c *Container) Encode(metadata Metadata, saveData, pendingDelta interface{}) ([]byte, error) {
	nonce, err := blobcodec.NewNonce(NonceSize)
	if err != nil {
		return nil, newError(ResultErrorEncryption, err)
	}

	// Build the plaintext region that follows the nonce: a zeroed
	// checksum placeholder, then metadata/save-data/pending-delta.
	plain := bytestream.New()
	if err := plain.WriteRaw(make([]byte, sha512.Size)); err != nil {
		return nil, newError(ResultErrorChecksumData, err)
	}
	if err := writeDataStore(plain, metadataWireValue(metadata)); err != nil {
		return nil, err
	}
	if err := writeDataStore(plain, saveData); err != nil {
		return nil, err
	}
	if err := writeDataStore(plain, pendingDelta); err != nil {
		return nil, err
	}

	// The checksum covers the entire blob (signature, version, nonce,
	// zeroed checksum, data regions) prior to encryption.
	full := bytestream.New()
	if err := full.WriteUint32(Signature); err != nil {
		return nil, err
	}
	if err := full.WriteInt32(MaxVersion); err != nil {
		return nil, err
	}
	if err := full.WriteRaw(nonce); err != nil {
		return nil, err
	}
	if err := full.WriteRaw(plain.Bytes()); err != nil {
		return nil, err
	}

	checksum := blobcodec.SHA512(full.Bytes())
	withChecksum := full.Bytes()
	copy(withChecksum[4+4+NonceSize:4+4+NonceSize+sha512.Size], checksum[:])

	headerLen := 4 + 4 + NonceSize
	ciphertext, err := blobcodec.EncryptAESCTR(c.key[:], nonce, withChecksum[headerLen:])
	if err != nil {
		return nil, newError(ResultErrorEncryption, err)
	}

	out := make([]byte, 0, headerLen+len(ciphertext))
	out = append(out, withChecksum[:headerLen]...)
	out = append(out, ciphertext...)
	return out, nil
}

// Decode parses and validates a blob produced by Encode, unmarshalling
// saveData and pendingDelta into the supplied destinations (which, like
// encoding/json, should be non-nil pointers; nil skips that region).
// Decode returns a *Error (via errors.As) identifying exactly which
// stage failed, per spec §4.6/§7's "distinct codes" requirement.
func (c *Container) Decode(blob []byte, saveData, pendingDelta interface{}) (Metadata, error) {
	s := bytestream.NewFromBytes(blob)

	signature, err := s.ReadUint32()
	if err != nil {
		return Metadata{}, newError(ResultErrorSignatureData, err)
	}
	if signature != Signature {
		return Metadata{}, newError(ResultErrorSignatureCheck, nil)
	}

	version, err := s.ReadInt32()
	if err != nil {
		return Metadata{}, newError(ResultErrorVersionData, err)
	}
	if version < MinVersion || version > MaxVersion {
		return Metadata{}, newError(ResultErrorVersionCheck, nil)
	}

	nonce, err := s.ReadRaw(NonceSize)
	if err != nil {
		return Metadata{}, newError(ResultErrorEncryption, err)
	}

	ciphertext, err := s.ReadRaw(int64(len(blob)) - s.Offset())
	if err != nil {
		return Metadata{}, newError(ResultErrorEncryption, err)
	}
	plaintext, err := blobcodec.DecryptAESCTR(c.key[:], nonce, ciphertext)
	if err != nil {
		return Metadata{}, newError(ResultErrorEncryption, err)
	}

	body := bytestream.NewFromBytes(plaintext)
	checksum, err := body.ReadRaw(sha512.Size)
	if err != nil {
		return Metadata{}, newError(ResultErrorChecksumData, err)
	}

	// Recompute over the full blob with the checksum bytes zeroed, as
	// the original checksum was.
	recomputeBuf := append([]byte{}, blob[:len(blob)-len(ciphertext)]...)
	recomputeBuf = append(recomputeBuf, plaintext...)
	headerLen := 4 + 4 + NonceSize
	for i := 0; i < sha512.Size; i++ {
		recomputeBuf[headerLen+i] = 0
	}
	computed := blobcodec.SHA512(recomputeBuf)
	if !bytesEqual(checksum, computed[:]) {
		return Metadata{}, newError(ResultErrorChecksumCheck, nil)
	}

	var wireMetadata metadataWire
	if err := readDataStore(body, &wireMetadata); err != nil {
		var ce *Error
		if asContainerError(err, &ce) {
			if ce.Result == ResultErrorSaveData {
				ce.Result = ResultErrorSerialization
			}
			return Metadata{}, ce
		}
		return Metadata{}, newError(ResultErrorSerialization, err)
	}
	metadata := wireMetadata.toMetadata()

	if err := readDataStore(body, saveData); err != nil {
		return Metadata{}, err
	}
	if err := readDataStore(body, pendingDelta); err != nil {
		return Metadata{}, err
	}

	if body.Offset() != body.Len() {
		return Metadata{}, newError(ResultErrorExtraData, nil)
	}

	return metadata, nil
}

func asContainerError(err error, out **Error) bool {
	ce, ok := err.(*Error)
	if ok {
		*out = ce
	}
	return ok
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// metadataWire is the CBOR-friendly mirror of Metadata: uuid.UUID
// marshals to CBOR as a 16-byte array here rather than relying on its
// (optional) text-based MarshalBinary, keeping the wire format stable
// regardless of which cbor struct tags the google/uuid package supports.
type metadataWire struct {
	Version          int32
	SessionGUID      [16]byte
	TransactionIDMin uint64
	TransactionIDMax uint64
}

func metadataWireValue(m Metadata) metadataWire {
	w := metadataWire{
		Version:          m.Version,
		TransactionIDMin: m.TransactionIDMin,
		TransactionIDMax: m.TransactionIDMax,
	}
	copy(w.SessionGUID[:], m.SessionGUID[:])
	return w
}

func (w metadataWire) toMetadata() Metadata {
	return Metadata{
		Version:          w.Version,
		SessionGUID:      w.SessionGUID,
		TransactionIDMin: w.TransactionIDMin,
		TransactionIDMax: w.TransactionIDMax,
	}
}
