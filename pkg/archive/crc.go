package archive

import (
	"github.com/ludic-games/contentfs/pkg/blobcodec"
	"github.com/ludic-games/contentfs/pkg/filepath"
)

// EntryCRCStatus is the outcome of checking one entry's on-disk bytes
// against its recorded crc32_pre.
type EntryCRCStatus int

const (
	// EntryOk means the on-disk bytes' CRC32 matches crc32_pre.
	EntryOk EntryCRCStatus = iota
	// EntryFailed means the on-disk bytes' CRC32 does not match.
	EntryFailed
)

// CRC32Report maps each checked FilePath to its outcome.
type CRC32Report map[filepath.FilePath]EntryCRCStatus

// PerformCRC32Check validates every entry's on-disk bytes against
// crc32_pre. When subset is non-empty, only FilePaths within it are
// re-read; entries outside the subset are reported as EntryOk without
// being re-read, per spec §4.4. The archive is "ok" iff its header
// parsed and every checked entry passes.
func (a *Archive) PerformCRC32Check(subset []filepath.FilePath) (bool, CRC32Report, error) {
	if !a.ok {
		return false, nil, nil
	}

	all := a.table.All(a.header.GameDirectory)
	report := make(CRC32Report, len(all))

	checkSet := map[filepath.FilePath]bool(nil)
	if len(subset) > 0 {
		checkSet = make(map[filepath.FilePath]bool, len(subset))
		for _, fp := range subset {
			checkSet[fp] = true
		}
	}

	ok := true
	for fp, entry := range all {
		if checkSet != nil && !checkSet[fp] {
			report[fp] = EntryOk
			continue
		}
		raw := make([]byte, entry.CompressedSize)
		if _, err := a.backing.ReadAt(raw, int64(entry.Offset)); err != nil {
			report[fp] = EntryFailed
			ok = false
			continue
		}
		if blobcodec.CRC32(raw) == entry.CRC32Pre {
			report[fp] = EntryOk
		} else {
			report[fp] = EntryFailed
			ok = false
		}
	}
	return ok, report, nil
}
