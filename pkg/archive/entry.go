package archive

import (
	"github.com/ludic-games/contentfs/pkg/bytestream"
	"github.com/ludic-games/contentfs/pkg/obfuscation"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Entry is the per-file record stored in the file table (spec §3, §6.1).
//
// CRC32Pre describes the raw bytes as stored on disk (post-obfuscation,
// post-compression). CRC32Post describes the logical file contents
// after de-obfuscation and decompression. Prior to v19 a single CRC was
// carried; DecodeTable normalises this by duplicating it into both
// fields.
type Entry struct {
	Offset           uint64
	CompressedSize   uint64
	UncompressedSize uint64
	ModifiedTime     uint64
	CRC32Pre         uint32
	CRC32Post        uint32

	// RelativeFilename is the on-disk relative path used to derive
	// this entry's obfuscation key and to reconstruct its FilePath.
	RelativeFilename string
}

// Key derives this entry's deterministic obfuscation key from its
// relative filename.
func (e Entry) Key() obfuscation.Key {
	return obfuscation.Derive(e.RelativeFilename)
}

// IsCompressed reports whether this entry's on-disk bytes require
// decompression: either its sizes differ, or a compression dictionary
// is in effect for the archive and this entry is not the dictionary
// itself (spec §4.4 algorithmic notes).
func (e Entry) IsCompressed(dictInEffect bool, isDictionaryEntry bool) bool {
	if isDictionaryEntry {
		return false
	}
	return e.CompressedSize != e.UncompressedSize || dictInEffect
}

func encodeEntry(s *bytestream.ByteStream, e Entry) error {
	if err := s.WriteUint64(e.Offset); err != nil {
		return err
	}
	if err := s.WriteUint64(e.CompressedSize); err != nil {
		return err
	}
	if err := s.WriteUint64(e.UncompressedSize); err != nil {
		return err
	}
	if err := s.WriteUint64(e.ModifiedTime); err != nil {
		return err
	}
	if err := s.WriteUint32(e.CRC32Pre); err != nil {
		return err
	}
	if err := s.WriteUint32(e.CRC32Post); err != nil {
		return err
	}
	nameBytes := len(e.RelativeFilename) + 1
	if err := s.WriteUint32(uint32(nameBytes)); err != nil {
		return err
	}
	return s.WriteCString(e.RelativeFilename)
}

func decodeEntry(s *bytestream.ByteStream, hasDualCRC bool) (Entry, error) {
	offset, err := s.ReadUint64()
	if err != nil {
		return Entry{}, err
	}
	compressedSize, err := s.ReadUint64()
	if err != nil {
		return Entry{}, err
	}
	uncompressedSize, err := s.ReadUint64()
	if err != nil {
		return Entry{}, err
	}
	modifiedTime, err := s.ReadUint64()
	if err != nil {
		return Entry{}, err
	}
	crc32Pre, err := s.ReadUint32()
	if err != nil {
		return Entry{}, err
	}
	crc32Post, err := s.ReadUint32()
	if err != nil {
		return Entry{}, err
	}
	if !hasDualCRC {
		crc32Post = crc32Pre
	}
	nameSize, err := s.ReadUint32()
	if err != nil {
		return Entry{}, err
	}
	if nameSize == 0 {
		return Entry{}, status.Error(codes.InvalidArgument, "archive: zero-length entry name")
	}
	name, err := s.ReadCString(int64(nameSize))
	if err != nil {
		return Entry{}, err
	}

	return Entry{
		Offset:           offset,
		CompressedSize:   compressedSize,
		UncompressedSize: uncompressedSize,
		ModifiedTime:     modifiedTime,
		CRC32Pre:         crc32Pre,
		CRC32Post:        crc32Post,
		RelativeFilename: name,
	}, nil
}
