package savecontainer

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/ludic-games/contentfs/pkg/blobcodec"
	"github.com/ludic-games/contentfs/pkg/bytestream"
)

// maxDataStoreSizeInBytes bounds both the uncompressed and compressed
// size of any one DataStore region, guarding against a corrupted or
// malicious length prefix forcing an enormous allocation.
const maxDataStoreSizeInBytes = 256 << 20

// writeDataStore CBOR-encodes v, zlib-compresses the result, and writes
// it as a DataStore region: `u32 uncompressed_size, u32 compressed_size,
// bytes`. A non-nil v, even one that CBOR-encodes to the empty map or to
// nil, is written with a non-zero header; the all-zero-length shortcut
// used by the original implementation for "no data at all" is reserved
// for a nil v, matching its "vUncompressedData.IsEmpty()" special case.
func writeDataStore(s *bytestream.ByteStream, v interface{}) error {
	if v == nil {
		return writeSizes(s, 0, 0)
	}

	plain, err := cbor.Marshal(v)
	if err != nil {
		return newError(ResultErrorSaveData, err)
	}
	if len(plain) > maxDataStoreSizeInBytes {
		return newError(ResultErrorTooBig, nil)
	}

	compressed, err := blobcodec.CompressZlib(plain)
	if err != nil {
		return newError(ResultErrorCompression, err)
	}
	if len(compressed) > maxDataStoreSizeInBytes {
		return newError(ResultErrorTooBig, nil)
	}

	if err := writeSizes(s, uint32(len(plain)), uint32(len(compressed))); err != nil {
		return err
	}
	return s.WriteRaw(compressed)
}

func writeSizes(s *bytestream.ByteStream, uncompressed, compressed uint32) error {
	if err := s.WriteUint32(uncompressed); err != nil {
		return err
	}
	return s.WriteUint32(compressed)
}

// readDataStore is the inverse of writeDataStore. dst, if non-nil, must
// be a pointer; the decompressed CBOR bytes are unmarshalled into it.
// When the region's uncompressed size is zero, dst is left untouched,
// matching the original's "DataStore.Swap(empty)" behaviour.
func readDataStore(s *bytestream.ByteStream, dst interface{}) error {
	uncompressedSize, err := s.ReadUint32()
	if err != nil {
		return newError(ResultErrorTooBig, err)
	}
	compressedSize, err := s.ReadUint32()
	if err != nil {
		return newError(ResultErrorTooBig, err)
	}
	if uncompressedSize > maxDataStoreSizeInBytes || compressedSize > maxDataStoreSizeInBytes {
		return newError(ResultErrorTooBig, nil)
	}
	if uncompressedSize == 0 {
		return nil
	}

	compressed, err := s.ReadRaw(int64(compressedSize))
	if err != nil {
		return newError(ResultErrorSaveData, err)
	}
	plain, err := blobcodec.DecompressZlib(compressed, int(uncompressedSize))
	if err != nil {
		return newError(ResultErrorCompression, err)
	}

	if dst == nil {
		return nil
	}
	if err := cbor.Unmarshal(plain, dst); err != nil {
		return newError(ResultErrorSaveData, err)
	}
	return nil
}
