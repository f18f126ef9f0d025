// Package blobcodec implements the pure, stateless data transforms
// shared by the archive, downloader and save-container layers:
// zlib/ZSTD/legacy-LZ4 compression, CRC32, SHA-512 digesting and
// AES-CTR encryption. Every function here is side-effect free; failures
// are reported with distinct codes (decompression vs. integrity) rather
// than a single generic error, per spec §4.1 and §7.
package blobcodec

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CRC32 computes the IEEE CRC32 checksum of b, as used for both
// crc32_pre and crc32_post in PackageFileEntry.
func CRC32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// SHA512 computes the SHA-512 digest of b, as used for the save
// container's integrity checksum.
func SHA512(b []byte) [sha512.Size]byte {
	return sha512.Sum512(b)
}

// CompressionMethod identifies which algorithm produced a blob's
// compressed bytes, mirroring the archive-format version history of
// spec §6.1.
type CompressionMethod int

const (
	// MethodNone means compressed_size == uncompressed_size; the
	// bytes are stored verbatim.
	MethodNone CompressionMethod = iota
	// MethodZlib is used by the save container (§6.3).
	MethodZlib
	// MethodLZ4 is the legacy (v16) archive entry compression.
	MethodLZ4
	// MethodZSTD is used by v17+ archive entries, optionally with a
	// precomputed dictionary.
	MethodZSTD
)

// DecompressZlib decompresses a zlib stream to its declared
// uncompressed size.
func DecompressZlib(compressed []byte, uncompressedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, status.Errorf(codes.DataLoss, "blobcodec: malformed zlib stream: %s", err)
	}
	defer r.Close()
	out := make([]byte, uncompressedSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, status.Errorf(codes.DataLoss, "blobcodec: zlib decompression failed: %s", err)
	}
	return out, nil
}

// DecompressZlibAll decompresses a zlib stream of unknown uncompressed
// size, reading until EOF. Used by the archive file table, whose
// uncompressed length is not recorded separately from the compressed
// bytes.
func DecompressZlibAll(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, status.Errorf(codes.DataLoss, "blobcodec: malformed zlib stream: %s", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, status.Errorf(codes.DataLoss, "blobcodec: zlib decompression failed: %s", err)
	}
	return out, nil
}

// CompressZlib compresses b at the default compression level.
func CompressZlib(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, status.Errorf(codes.Internal, "blobcodec: zlib compression failed: %s", err)
	}
	if err := w.Close(); err != nil {
		return nil, status.Errorf(codes.Internal, "blobcodec: zlib compression failed: %s", err)
	}
	return buf.Bytes(), nil
}

// DecompressLZ4 decompresses a legacy (v16) LZ4 block stream to its
// declared uncompressed size.
func DecompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(compressed, out)
	if err != nil {
		return nil, status.Errorf(codes.DataLoss, "blobcodec: malformed lz4 block: %s", err)
	}
	if n != uncompressedSize {
		return nil, status.Errorf(codes.DataLoss, "blobcodec: lz4 decompressed to %d bytes, expected %d", n, uncompressedSize)
	}
	return out, nil
}

// CompressLZ4 compresses b using a fresh compressor state; only used by
// test fixtures that synthesize legacy archives.
func CompressLZ4(b []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(b)))
	var c lz4.Compressor
	n, err := c.CompressBlock(b, out)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "blobcodec: lz4 compression failed: %s", err)
	}
	if n == 0 {
		// Incompressible input: lz4 leaves the block stored raw in
		// this case, which the archive format represents by setting
		// compressed_size == uncompressed_size instead, so ask the
		// caller to skip compression. Signal via a FailedPrecondition
		// error and a nil result.
		return nil, status.Error(codes.FailedPrecondition, "blobcodec: input is incompressible under lz4 block compression")
	}
	return out[:n], nil
}

// Dictionary wraps a precomputed ZSTD compression dictionary, loaded
// once from the archive's reserved dictionary entry.
type Dictionary struct {
	bytes []byte
}

// NewDictionary wraps raw dictionary bytes read from a
// pkgcdict_<platform>.dat entry.
func NewDictionary(b []byte) *Dictionary {
	return &Dictionary{bytes: b}
}

// Equal reports whether two dictionaries hold byte-identical contents,
// used by the downloader's cross-archive compatibility check (spec §3:
// "same compression-dict presence and byte-identical dictionary").
func (d *Dictionary) Equal(o *Dictionary) bool {
	if d == nil || o == nil {
		return d == o
	}
	return bytes.Equal(d.bytes, o.bytes)
}

// DecompressZSTD decompresses a ZSTD stream to its declared uncompressed
// size, optionally using a precomputed dictionary.
func DecompressZSTD(compressed []byte, uncompressedSize int, dict *Dictionary) ([]byte, error) {
	var opts []zstd.DOption
	if dict != nil {
		opts = append(opts, zstd.WithDecoderDicts(dict.bytes))
	}
	d, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "blobcodec: failed to construct zstd decoder: %s", err)
	}
	defer d.Close()
	out, err := d.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, status.Errorf(codes.DataLoss, "blobcodec: zstd decompression failed: %s", err)
	}
	if len(out) != uncompressedSize {
		return nil, status.Errorf(codes.DataLoss, "blobcodec: zstd decompressed to %d bytes, expected %d", len(out), uncompressedSize)
	}
	return out, nil
}

// CompressZSTD compresses b, optionally using a precomputed dictionary;
// used by test fixtures and by downloader-side re-population tooling.
func CompressZSTD(b []byte, dict *Dictionary) ([]byte, error) {
	var opts []zstd.EOption
	if dict != nil {
		opts = append(opts, zstd.WithEncoderDict(dict.bytes))
	}
	e, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "blobcodec: failed to construct zstd encoder: %s", err)
	}
	defer e.Close()
	return e.EncodeAll(b, nil), nil
}

// aesKeySize is the required key length for the AES-CTR primitives
// below (spec §4.1: "externally supplied 32-byte key").
const aesKeySize = 32

// MinNonceSize and MaxNonceSize bound the per-blob nonce length accepted
// by EncryptAESCTR/DecryptAESCTR, per spec §4.1.
const (
	MinNonceSize = 12
	MaxNonceSize = 16
)

// NewNonce generates a cryptographically random nonce of the given
// length (which must be within [MinNonceSize, MaxNonceSize]).
func NewNonce(length int) ([]byte, error) {
	if length < MinNonceSize || length > MaxNonceSize {
		return nil, status.Errorf(codes.InvalidArgument, "blobcodec: nonce length %d out of range [%d, %d]", length, MinNonceSize, MaxNonceSize)
	}
	nonce := make([]byte, length)
	if _, err := rand.Read(nonce); err != nil {
		return nil, status.Errorf(codes.Internal, "blobcodec: failed to generate nonce: %s", err)
	}
	return nonce, nil
}

func newAESCTRStream(key, nonce []byte) (cipher.Stream, error) {
	if len(key) != aesKeySize {
		return nil, status.Errorf(codes.InvalidArgument, "blobcodec: AES key must be %d bytes, got %d", aesKeySize, len(key))
	}
	if len(nonce) < MinNonceSize || len(nonce) > MaxNonceSize {
		return nil, status.Errorf(codes.InvalidArgument, "blobcodec: nonce length %d out of range [%d, %d]", len(nonce), MinNonceSize, MaxNonceSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "blobcodec: failed to construct AES cipher: %s", err)
	}
	// CTR requires a block-sized IV; the externally supplied nonce is
	// padded with zero bytes to aes.BlockSize.
	iv := make([]byte, aes.BlockSize)
	copy(iv, nonce)
	return cipher.NewCTR(block, iv), nil
}

// EncryptAESCTR encrypts plaintext without modifying it: it returns a
// freshly allocated ciphertext of the same length as plaintext.
func EncryptAESCTR(key, nonce, plaintext []byte) ([]byte, error) {
	stream, err := newAESCTRStream(key, nonce)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	stream.XORKeyStream(out, plaintext)
	return out, nil
}

// DecryptAESCTR decrypts ciphertext produced by EncryptAESCTR. AES-CTR
// is its own inverse, but this wrapper exists so that call sites read
// naturally and so error classification (key/nonce validation) is
// shared between the two directions.
func DecryptAESCTR(key, nonce, ciphertext []byte) ([]byte, error) {
	stream, err := newAESCTRStream(key, nonce)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	stream.XORKeyStream(out, ciphertext)
	return out, nil
}
