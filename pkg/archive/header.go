package archive

import (
	"github.com/ludic-games/contentfs/pkg/bytestream"
	"github.com/ludic-games/contentfs/pkg/filepath"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Signature is the fixed 32-bit magic value at offset 0 of every
// archive.
const Signature uint32 = 0x53415231 // "SAR1"

// Version identifies the archive format revision. v17/v18 are
// read-only legacy formats; v19-v21 are the fully supported range.
type Version uint8

const (
	VersionLegacy17 Version = 17
	VersionLegacy18 Version = 18
	Version19       Version = 19
	Version20       Version = 20
	Version21       Version = 21

	MinSupportedVersion = VersionLegacy17
	MaxSupportedVersion = Version21
)

// HeaderSize is the fixed size, in bytes, of PackageFileHeader on disk.
const HeaderSize = 48

// Flag bits packed into the header's single flags byte.
const (
	FlagCompressedFileTable     uint8 = 1 << 0
	FlagHasCompressionDict      uint8 = 1 << 1
	FlagSupportsDirectoryQuery  uint8 = 1 << 2
	FlagHasPostObfuscationCRC32 uint8 = 1 << 3
)

// Header is the fixed-size record at offset 0 of an archive (spec §3,
// §6.1).
type Header struct {
	Version             Version
	Platform            uint8
	Obfuscated          bool
	CompressedFileTable bool
	HasCompressionDict  bool
	SupportsDirQuery    bool
	HasDualCRC          bool
	GameDirectory       filepath.GameDirectory
	BuildVersionMajor   uint32
	BuildChangelist     uint32
	TotalPackageSize    uint64
	OffsetToFileTable   uint64
	SizeOfFileTable     uint32
	TotalEntries        uint32
}

// packPlatformAndObfuscation packs the platform tag (low 7 bits) and the
// obfuscation flag (high bit) into a single byte, per spec §6.1.
func packPlatformAndObfuscation(platform uint8, obfuscated bool) uint8 {
	b := platform & 0x7f
	if obfuscated {
		b |= 0x80
	}
	return b
}

func unpackPlatformAndObfuscation(b uint8) (platform uint8, obfuscated bool) {
	return b & 0x7f, b&0x80 != 0
}

// Encode serialises the header to exactly HeaderSize bytes.
func (h Header) Encode() ([]byte, error) {
	s := bytestream.New()
	if err := s.WriteUint32(Signature); err != nil {
		return nil, err
	}
	if err := s.WriteUint8(uint8(h.Version)); err != nil {
		return nil, err
	}
	if err := s.WriteUint8(packPlatformAndObfuscation(h.Platform, h.Obfuscated)); err != nil {
		return nil, err
	}
	var flags uint8
	if h.CompressedFileTable {
		flags |= FlagCompressedFileTable
	}
	if h.HasCompressionDict {
		flags |= FlagHasCompressionDict
	}
	if h.SupportsDirQuery {
		flags |= FlagSupportsDirectoryQuery
	}
	if h.HasDualCRC {
		flags |= FlagHasPostObfuscationCRC32
	}
	if err := s.WriteUint8(flags); err != nil {
		return nil, err
	}
	if err := s.WriteUint8(uint8(h.GameDirectory)); err != nil {
		return nil, err
	}
	if err := s.WriteUint32(h.BuildVersionMajor); err != nil {
		return nil, err
	}
	if err := s.WriteUint32(h.BuildChangelist); err != nil {
		return nil, err
	}
	if err := s.WriteUint64(h.TotalPackageSize); err != nil {
		return nil, err
	}
	if err := s.WriteUint64(h.OffsetToFileTable); err != nil {
		return nil, err
	}
	if err := s.WriteUint32(h.SizeOfFileTable); err != nil {
		return nil, err
	}
	if err := s.WriteUint32(h.TotalEntries); err != nil {
		return nil, err
	}
	if err := s.WriteRaw(make([]byte, HeaderSize-s.Len())); err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

// DecodeHeader parses and validates a header from exactly HeaderSize
// bytes. Validation failures are classified as InvalidArgument (the
// caller is expected to fold this into a single NotOk archive state,
// per spec §4.4 "Failure semantics").
func DecodeHeader(raw []byte) (Header, error) {
	if len(raw) != HeaderSize {
		return Header{}, status.Errorf(codes.InvalidArgument, "archive: header must be exactly %d bytes, got %d", HeaderSize, len(raw))
	}
	s := bytestream.NewFromBytes(raw)

	signature, err := s.ReadUint32()
	if err != nil {
		return Header{}, err
	}
	if signature != Signature {
		return Header{}, status.Errorf(codes.InvalidArgument, "archive: bad signature %#x", signature)
	}

	versionByte, err := s.ReadUint8()
	if err != nil {
		return Header{}, err
	}
	version := Version(versionByte)
	if version < MinSupportedVersion || version > MaxSupportedVersion {
		return Header{}, status.Errorf(codes.InvalidArgument, "archive: unsupported version %d (supported range [%d, %d])", version, MinSupportedVersion, MaxSupportedVersion)
	}

	platformByte, err := s.ReadUint8()
	if err != nil {
		return Header{}, err
	}
	platform, obfuscated := unpackPlatformAndObfuscation(platformByte)

	flags, err := s.ReadUint8()
	if err != nil {
		return Header{}, err
	}

	gameDir, err := s.ReadUint8()
	if err != nil {
		return Header{}, err
	}

	buildMajor, err := s.ReadUint32()
	if err != nil {
		return Header{}, err
	}
	buildChangelist, err := s.ReadUint32()
	if err != nil {
		return Header{}, err
	}
	totalPackageSize, err := s.ReadUint64()
	if err != nil {
		return Header{}, err
	}
	offsetToFileTable, err := s.ReadUint64()
	if err != nil {
		return Header{}, err
	}
	sizeOfFileTable, err := s.ReadUint32()
	if err != nil {
		return Header{}, err
	}
	totalEntries, err := s.ReadUint32()
	if err != nil {
		return Header{}, err
	}

	h := Header{
		Version:              version,
		Platform:             platform,
		Obfuscated:           obfuscated,
		CompressedFileTable:  flags&FlagCompressedFileTable != 0,
		HasCompressionDict:   flags&FlagHasCompressionDict != 0,
		SupportsDirQuery:     flags&FlagSupportsDirectoryQuery != 0,
		HasDualCRC:           version >= Version19 && flags&FlagHasPostObfuscationCRC32 != 0,
		GameDirectory:        filepath.GameDirectory(gameDir),
		BuildVersionMajor:    buildMajor,
		BuildChangelist:      buildChangelist,
		TotalPackageSize:     totalPackageSize,
		OffsetToFileTable:    offsetToFileTable,
		SizeOfFileTable:      sizeOfFileTable,
		TotalEntries:         totalEntries,
	}

	expectedTotal := h.OffsetToFileTable + uint64(h.SizeOfFileTable)
	if version >= Version20 {
		expectedTotal += 4
	}
	if h.TotalPackageSize != expectedTotal {
		return Header{}, status.Errorf(codes.InvalidArgument,
			"archive: total_package_size %d does not match offset_to_file_table+size_of_file_table(+crc) %d",
			h.TotalPackageSize, expectedTotal)
	}

	return h, nil
}

// FileTableCRCSize returns how many trailing bytes after the file table
// hold its CRC32, per spec §6.1 ("immediately followed by a u32 crc32 ...
// when v≥20").
func (h Header) FileTableCRCSize() uint64 {
	if h.Version >= Version20 {
		return 4
	}
	return 0
}
