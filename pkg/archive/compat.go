package archive

import (
	"github.com/ludic-games/contentfs/pkg/filepath"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CompatibleForPopulation reports whether donor may donate bytes to
// target during the downloader's init-time populate pass (spec §3:
// "Two archives are compatible for cross-population iff: same
// platform, same obfuscation flag, same compression-dict presence and
// byte-identical dictionary, same dual-CRC discipline"). Per-FilePath
// size/CRC matching is checked separately by the caller for each
// candidate entry.
func CompatibleForPopulation(target, donor *Archive) bool {
	if !target.ok || !donor.ok {
		return false
	}
	th, dh := target.header, donor.header
	if target.platform != donor.platform {
		return false
	}
	if th.Obfuscated != dh.Obfuscated {
		return false
	}
	if th.HasCompressionDict != dh.HasCompressionDict {
		return false
	}
	if th.HasCompressionDict && !target.dictionary.Equal(donor.dictionary) {
		return false
	}
	if th.HasDualCRC != dh.HasDualCRC {
		return false
	}
	return true
}

// ReadRawEntry reads the raw, on-disk bytes of fp's entry — obfuscated
// and (if applicable) still compressed — without de-obfuscating or
// decompressing them. This is used by the downloader to copy bytes
// directly between compatible archives (spec §4.5.2.f "Populate"):
// since both archives obfuscate/compress identically for any entry with
// matching (compressed_size, uncompressed_size, crc32_post), the raw
// bytes can be copied verbatim.
func (a *Archive) ReadRawEntry(fp filepath.FilePath) ([]byte, error) {
	entry, ok := a.table.Lookup(fp)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "archive: no such file %q", fp)
	}
	raw := make([]byte, entry.CompressedSize)
	if _, err := a.backing.ReadAt(raw, int64(entry.Offset)); err != nil {
		return nil, status.Errorf(codes.Unavailable, "archive: failed to read raw entry %q: %s", fp, err)
	}
	return raw, nil
}
