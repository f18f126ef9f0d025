package archive

import (
	"github.com/ludic-games/contentfs/pkg/blobcodec"
	"github.com/ludic-games/contentfs/pkg/bytestream"
	"github.com/ludic-games/contentfs/pkg/filepath"
	"github.com/ludic-games/contentfs/pkg/obfuscation"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DictionaryEntryName is the reserved relative path of the compression
// dictionary entry, per spec §3/§6.1.
func DictionaryEntryName(platform string) string {
	return "pkgcdict_" + platform + ".dat"
}

// Table maps FilePath to its archive Entry. It is immutable once
// constructed at archive-open time, per spec §3 ("Lifecycles").
type Table struct {
	byPath map[string]Entry
}

// NewTable wraps a slice of decoded entries into a lookup-by-FilePath
// table. Duplicate logical paths (differing only by case) are rejected:
// the archive format does not permit them.
func NewTable(directory filepath.GameDirectory, entries []Entry) (*Table, error) {
	byPath := make(map[string]Entry, len(entries))
	for _, e := range entries {
		fp := filepath.NewFromRelativeFilename(directory, e.RelativeFilename)
		if _, exists := byPath[fp.Key()]; exists {
			return nil, status.Errorf(codes.InvalidArgument, "archive: duplicate file table entry for %q", e.RelativeFilename)
		}
		byPath[fp.Key()] = e
	}
	return &Table{byPath: byPath}, nil
}

// Lookup returns the Entry for fp, if present.
func (t *Table) Lookup(fp filepath.FilePath) (Entry, bool) {
	e, ok := t.byPath[fp.Key()]
	return e, ok
}

// All returns every (FilePath, Entry) pair. The FilePath is reconstructed
// using the given directory tag.
func (t *Table) All(directory filepath.GameDirectory) map[filepath.FilePath]Entry {
	out := make(map[filepath.FilePath]Entry, len(t.byPath))
	for _, e := range t.byPath {
		fp := filepath.NewFromRelativeFilename(directory, e.RelativeFilename)
		out[fp] = e
	}
	return out
}

// Len returns the number of entries in the table.
func (t *Table) Len() int {
	return len(t.byPath)
}

// EncodeTable serialises entries into the obfuscated (and optionally
// zlib-compressed) file-table byte range described by spec §6.1. The key
// used is always derived from the reserved table pseudo-name, never from
// any individual entry's path.
func EncodeTable(entries []Entry, header Header) ([]byte, error) {
	s := bytestream.New()
	for _, e := range entries {
		if err := encodeEntry(s, e); err != nil {
			return nil, err
		}
	}
	plain := s.Bytes()

	var toObfuscate []byte
	if header.CompressedFileTable {
		compressed, err := blobcodec.CompressZlib(plain)
		if err != nil {
			return nil, err
		}
		toObfuscate = compressed
	} else {
		toObfuscate = plain
	}

	key := obfuscation.Derive(obfuscation.TableEntryName(header.BuildVersionMajor, header.BuildChangelist))
	obfuscated := make([]byte, len(toObfuscate))
	key.XOR(0, obfuscated, toObfuscate)

	if header.Version >= Version20 {
		crc := blobcodec.CRC32(obfuscated)
		crcStream := bytestream.New()
		if err := crcStream.WriteUint32(crc); err != nil {
			return nil, err
		}
		obfuscated = append(obfuscated, crcStream.Bytes()...)
	}
	return obfuscated, nil
}

// DecodeTable parses the raw file-table byte range (as read from disk at
// offset_to_file_table, length size_of_file_table(+4 if v≥20)) into its
// entries. It verifies the trailing CRC32 when present, de-obfuscates,
// and decompresses if the header's compressed-file-table flag is set. It
// returns the still-obfuscated table bytes (without the trailing CRC32)
// alongside the decoded entries.
func DecodeTable(raw []byte, header Header, uncompressedTableSizeHint int) ([]byte, []Entry, error) {
	obfuscatedTable := raw
	if header.Version >= Version20 {
		if len(raw) < 4 {
			return nil, nil, status.Error(codes.InvalidArgument, "archive: file table shorter than trailing CRC32")
		}
		obfuscatedTable = raw[:len(raw)-4]
		s := bytestream.NewFromBytes(raw[len(raw)-4:])
		expectedCRC, err := s.ReadUint32()
		if err != nil {
			return nil, nil, err
		}
		actualCRC := blobcodec.CRC32(obfuscatedTable)
		if actualCRC != expectedCRC {
			return nil, nil, status.Errorf(codes.DataLoss, "archive: file table CRC32 mismatch: got %#x, want %#x", actualCRC, expectedCRC)
		}
	}

	key := obfuscation.Derive(obfuscation.TableEntryName(header.BuildVersionMajor, header.BuildChangelist))
	deobfuscated := make([]byte, len(obfuscatedTable))
	key.XOR(0, deobfuscated, obfuscatedTable)

	plain := deobfuscated
	if header.CompressedFileTable {
		decompressed, err := blobcodec.DecompressZlibAll(deobfuscated)
		if err != nil {
			return nil, nil, err
		}
		plain = decompressed
	}

	s := bytestream.NewFromBytes(plain)
	entries := make([]Entry, 0, header.TotalEntries)
	for i := uint32(0); i < header.TotalEntries; i++ {
		e, err := decodeEntry(s, header.HasDualCRC)
		if err != nil {
			return nil, nil, status.Errorf(codes.InvalidArgument, "archive: failed to decode file table entry %d: %s", i, err)
		}
		entries = append(entries, e)
	}
	return obfuscatedTable, entries, nil
}
