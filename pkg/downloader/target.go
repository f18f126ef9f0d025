package downloader

import (
	"io"
	"os"
	"sync"

	"github.com/ludic-games/contentfs/pkg/archive"
	"github.com/ludic-games/contentfs/pkg/blobcodec"
	"github.com/ludic-games/contentfs/pkg/filepath"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// presenceMap tracks, per FilePath, whether the downloader's target file
// currently holds verified-present bytes for that entry (spec §3
// DownloaderState: "tracks per-entry presence"). Entries only ever
// transition from absent to present, never the reverse, which is the
// invariant spec §5 relies on to let concurrent reads skip locking.
type presenceMap struct {
	mu      sync.RWMutex
	present map[string]bool
}

func newPresenceMap() *presenceMap {
	return &presenceMap{present: map[string]bool{}}
}

func (p *presenceMap) isPresent(fp filepath.FilePath) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.present[fp.Key()]
}

func (p *presenceMap) markPresent(fp filepath.FilePath) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.present[fp.Key()] = true
}

func (p *presenceMap) countPresent() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, v := range p.present {
		if v {
			n++
		}
	}
	return n
}

// openOrCreateTargetFile opens absolutePath for read/write, creating it
// if necessary, and resizes it to exactly totalSize bytes. Any existing
// prefix bytes below min(old size, totalSize) are preserved — this is
// what lets a reopened downloader recover present-state by re-CRCing
// entries rather than needing a side-car metadata file (spec §4.5.6
// "Cross-session").
func openOrCreateTargetFile(absolutePath string, totalSize uint64) (*os.File, error) {
	f, err := os.OpenFile(absolutePath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "downloader: failed to open target file %q: %s", absolutePath, err)
	}
	if err := f.Truncate(int64(totalSize)); err != nil {
		f.Close()
		return nil, status.Errorf(codes.FailedPrecondition, "downloader: failed to size target file %q to %d bytes: %s", absolutePath, totalSize, err)
	}
	return f, nil
}

// crcCheckEntry reads an entry's on-disk span from r and reports whether
// it matches the entry's recorded crc32_pre.
func crcCheckEntry(r io.ReaderAt, e archive.Entry) bool {
	raw := make([]byte, e.CompressedSize)
	if _, err := r.ReadAt(raw, int64(e.Offset)); err != nil {
		return false
	}
	return blobcodec.CRC32(raw) == e.CRC32Pre
}
