package downloader

import "github.com/ludic-games/contentfs/pkg/filepath"

type requestKind int

const (
	requestKindFetch requestKind = iota
	requestKindPrefetch
)

// fetchRequest is one queued Fetch/Prefetch call (spec §4.5.3). An
// empty Files slice means "all entries in the table".
type fetchRequest struct {
	kind     requestKind
	files    []filepath.FilePath
	priority Priority
	lane     Lane
	token    *Token
}
