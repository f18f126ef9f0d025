package downloader_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ludic-games/contentfs/pkg/archive"
	"github.com/ludic-games/contentfs/pkg/blobcodec"
	"github.com/ludic-games/contentfs/pkg/downloader"
	contentfspath "github.com/ludic-games/contentfs/pkg/filepath"
	"github.com/ludic-games/contentfs/pkg/obfuscation"
	"github.com/stretchr/testify/require"
)

// testPackage is an in-memory archive built by buildTestPackage, used
// both to seed an httptest.Server and to decode expected FilePaths.
type testPackage struct {
	raw      []byte
	header   archive.Header
	entries  []archive.Entry
	gameDir  contentfspath.GameDirectory
	platform archive.Platform
}

func (p *testPackage) filePath(name string) contentfspath.FilePath {
	return contentfspath.NewFromRelativeFilename(p.gameDir, name)
}

// buildTestPackage assembles a complete, valid .sar byte image in memory
// from a name->content map, obfuscating each entry's bytes the same way
// a real archive writer would (spec §6.1).
func buildTestPackage(t *testing.T, files map[string][]byte) *testPackage {
	t.Helper()

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}

	const gameDir contentfspath.GameDirectory = 7
	const platform archive.Platform = "test-platform"

	header := archive.Header{
		Version:             archive.Version21,
		Platform:            1,
		Obfuscated:          true,
		CompressedFileTable: false,
		HasCompressionDict:  false,
		SupportsDirQuery:    false,
		HasDualCRC:          false,
		GameDirectory:       gameDir,
		BuildVersionMajor:   1,
		BuildChangelist:     100,
	}

	// File data blobs are laid out immediately after the fixed header;
	// the file table itself is the final region of the archive, and
	// total_package_size is defined (and validated by DecodeHeader) as
	// exactly offset_to_file_table + size_of_file_table(+crc) — so
	// entries must be placed and offset-assigned before the table is
	// encoded, not after.
	entries := make([]archive.Entry, 0, len(names))
	cursor := uint64(archive.HeaderSize)
	for _, name := range names {
		content := files[name]
		key := obfuscation.Derive(name)
		obfuscated := make([]byte, len(content))
		key.XOR(0, obfuscated, content)
		entries = append(entries, archive.Entry{
			Offset:           cursor,
			CompressedSize:   uint64(len(content)),
			UncompressedSize: uint64(len(content)),
			ModifiedTime:     1700000000,
			CRC32Pre:         blobcodec.CRC32(obfuscated),
			CRC32Post:        blobcodec.CRC32(content),
			RelativeFilename: name,
		})
		cursor += uint64(len(content))
	}

	header.TotalEntries = uint32(len(entries))
	header.OffsetToFileTable = cursor

	tableBytes, err := archive.EncodeTable(entries, header)
	require.NoError(t, err)

	header.SizeOfFileTable = uint32(uint64(len(tableBytes)) - header.FileTableCRCSize())
	header.TotalPackageSize = header.OffsetToFileTable + uint64(header.SizeOfFileTable) + header.FileTableCRCSize()

	headerBytes, err := header.Encode()
	require.NoError(t, err)

	raw := make([]byte, header.TotalPackageSize)
	copy(raw, headerBytes)
	copy(raw[header.OffsetToFileTable:], tableBytes)
	for _, e := range entries {
		name := e.RelativeFilename
		content := files[name]
		key := obfuscation.Derive(name)
		obfuscated := make([]byte, len(content))
		key.XOR(0, obfuscated, content)
		copy(raw[e.Offset:], obfuscated)
	}

	return &testPackage{raw: raw, header: header, entries: entries, gameDir: gameDir, platform: platform}
}

// rangeServer serves byte-range GETs against an in-memory archive image,
// counting requests (one total across all paths) so tests can assert how much network
// traffic a scenario actually generated.
type rangeServer struct {
	mu       sync.Mutex
	requests int
	data     []byte
}

func newRangeServer(data []byte) *rangeServer {
	return &rangeServer{data: data}
}

func (s *rangeServer) requestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

func (s *rangeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()

	var begin, end int
	if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &begin, &end); err != nil {
		http.Error(w, "missing range", http.StatusRequestedRangeNotSatisfiable)
		return
	}
	if begin < 0 || end >= len(s.data) || begin > end {
		http.Error(w, "bad range", http.StatusRequestedRangeNotSatisfiable)
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", begin, end, len(s.data)))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(s.data[begin : end+1])
}

func newConfig(t *testing.T, targetDir string, url string, pkg *testPackage) downloader.Config {
	t.Helper()
	return downloader.Config{
		AbsoluteTargetPath: filepath.Join(targetDir, "target.sar"),
		InitialURL:         url,
		Platform:           pkg.platform,
		BackoffBase:        time.Millisecond,
		BackoffGrowth:      1.0,
		BackoffMax:         5 * time.Millisecond,
		ResendOnFailure:    true,
	}
}

func mustInit(t *testing.T, d *downloader.Downloader) {
	t.Helper()
	select {
	case <-waitInit(d):
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for downloader initialisation")
	}
	require.True(t, d.IsOk(), "downloader failed to initialise: %v", d.GetStats())
}

func waitInit(d *downloader.Downloader) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for !d.IsInitializationComplete() {
			time.Sleep(time.Millisecond)
		}
		close(ch)
	}()
	return ch
}

func TestFullColdDownload(t *testing.T) {
	pkg := buildTestPackage(t, map[string][]byte{
		"data/a.bin": []byte("hello world, this is file a"),
		"data/b.bin": []byte("a completely different file b payload"),
	})
	srv := httptest.NewServer(newRangeServer(pkg.raw))
	defer srv.Close()

	d := downloader.New(newConfig(t, t.TempDir(), srv.URL, pkg))
	defer d.Shutdown()
	mustInit(t, d)

	token := d.Fetch(nil, downloader.PriorityNormal)
	require.NoError(t, token.Wait())

	for name, content := range map[string][]byte{
		"data/a.bin": []byte("hello world, this is file a"),
		"data/b.bin": []byte("a completely different file b payload"),
	} {
		got, err := d.ReadAll(pkg.filePath(name))
		require.NoError(t, err)
		require.Equal(t, content, got)
		require.False(t, d.IsServicedByNetwork(pkg.filePath(name)))
	}

	ok, report, err := d.PerformCRC32Check(nil)
	require.NoError(t, err)
	require.True(t, ok)
	for _, status := range report {
		require.Equal(t, downloader.EntryOk, status)
	}
}

func TestAllLocalFastPathIssuesNoEntryDownloads(t *testing.T) {
	pkg := buildTestPackage(t, map[string][]byte{
		"data/a.bin": []byte("already fully present on disk"),
	})
	srv := httptest.NewServer(newRangeServer(pkg.raw))
	defer srv.Close()

	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.sar")
	require.NoError(t, os.WriteFile(targetPath, pkg.raw, 0o644))

	cfg := newConfig(t, dir, srv.URL, pkg)
	d := downloader.New(cfg)
	defer d.Shutdown()
	mustInit(t, d)

	require.True(t, d.Exists(pkg.filePath("data/a.bin")))
	require.False(t, d.IsServicedByNetwork(pkg.filePath("data/a.bin")))

	stats := d.GetStats()
	require.Zero(t, stats.Events["loop_download_count"])
	require.Zero(t, stats.Events["init_populate_count"])

	token := d.Fetch(nil, downloader.PriorityNormal)
	require.NoError(t, token.Wait())
	stats = d.GetStats()
	require.Zero(t, stats.Events["loop_download_count"])
}

func TestPopulateFromCompatibleDonor(t *testing.T) {
	files := map[string][]byte{
		"data/a.bin": []byte("content shared across versions unchanged"),
		"data/b.bin": []byte("content also shared across versions"),
	}
	pkg := buildTestPackage(t, files)
	srv := httptest.NewServer(newRangeServer(pkg.raw))
	defer srv.Close()

	dir := t.TempDir()
	donorPath := filepath.Join(dir, "donor.sar")
	require.NoError(t, os.WriteFile(donorPath, pkg.raw, 0o644))

	cfg := newConfig(t, dir, srv.URL, pkg)
	cfg.PopulatePackages = []string{donorPath}
	d := downloader.New(cfg)
	defer d.Shutdown()
	mustInit(t, d)

	for name, content := range files {
		require.False(t, d.IsServicedByNetwork(pkg.filePath(name)))
		got, err := d.ReadAll(pkg.filePath(name))
		require.NoError(t, err)
		require.Equal(t, content, got)
	}

	stats := d.GetStats()
	require.EqualValues(t, len(files), stats.Events["init_populate_count"])
	require.Zero(t, stats.Events["loop_download_count"])
}

func TestSparseFetchOfSingleFile(t *testing.T) {
	pkg := buildTestPackage(t, map[string][]byte{
		"data/a.bin": []byte("file a payload goes here, somewhat long"),
		"data/b.bin": []byte("file b payload, never requested by this test"),
	})
	srv := httptest.NewServer(newRangeServer(pkg.raw))
	defer srv.Close()

	d := downloader.New(newConfig(t, t.TempDir(), srv.URL, pkg))
	defer d.Shutdown()
	mustInit(t, d)

	token := d.Fetch([]contentfspath.FilePath{pkg.filePath("data/a.bin")}, downloader.PriorityNormal)
	require.NoError(t, token.Wait())

	require.False(t, d.IsServicedByNetwork(pkg.filePath("data/a.bin")))
	require.True(t, d.IsServicedByNetwork(pkg.filePath("data/b.bin")))

	got, err := d.ReadAll(pkg.filePath("data/a.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte("file a payload goes here, somewhat long"), got)
}

func TestFetchUnknownFileReturnsNotFound(t *testing.T) {
	pkg := buildTestPackage(t, map[string][]byte{
		"data/a.bin": []byte("present"),
	})
	srv := httptest.NewServer(newRangeServer(pkg.raw))
	defer srv.Close()

	d := downloader.New(newConfig(t, t.TempDir(), srv.URL, pkg))
	defer d.Shutdown()
	mustInit(t, d)

	token := d.Fetch([]contentfspath.FilePath{pkg.filePath("data/missing.bin")}, downloader.PriorityNormal)
	require.Error(t, token.Wait())
}

// flakyThenOKHandler fails the first failFirst requests it receives,
// whatever range they ask for, with a 503, then serves normally,
// exercising the retry-on-transient-failure path of spec §4.8.
type flakyThenOKHandler struct {
	inner     http.Handler
	failFirst int32
	failed    int32
}

func (h *flakyThenOKHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if atomic.AddInt32(&h.failed, 1) <= h.failFirst {
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	h.inner.ServeHTTP(w, r)
}

func TestTransientFailureIsRetried(t *testing.T) {
	pkg := buildTestPackage(t, map[string][]byte{
		"data/a.bin": []byte("payload recovered after a couple of retries"),
	})
	flaky := &flakyThenOKHandler{inner: newRangeServer(pkg.raw), failFirst: 2}
	srv := httptest.NewServer(flaky)
	defer srv.Close()

	d := downloader.New(newConfig(t, t.TempDir(), srv.URL, pkg))
	defer d.Shutdown()
	mustInit(t, d)

	token := d.Fetch([]contentfspath.FilePath{pkg.filePath("data/a.bin")}, downloader.PriorityNormal)
	require.NoError(t, token.Wait())

	got, err := d.ReadAll(pkg.filePath("data/a.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload recovered after a couple of retries"), got)
}

func TestIdempotentRefetchIsNoOp(t *testing.T) {
	pkg := buildTestPackage(t, map[string][]byte{
		"data/a.bin": []byte("fetched once, then requested again"),
	})
	rs := newRangeServer(pkg.raw)
	srv := httptest.NewServer(rs)
	defer srv.Close()

	d := downloader.New(newConfig(t, t.TempDir(), srv.URL, pkg))
	defer d.Shutdown()
	mustInit(t, d)

	require.NoError(t, d.Fetch([]contentfspath.FilePath{pkg.filePath("data/a.bin")}, downloader.PriorityNormal).Wait())
	afterFirst := d.GetStats().Events["loop_download_count"]
	require.NotZero(t, afterFirst)

	require.NoError(t, d.Fetch([]contentfspath.FilePath{pkg.filePath("data/a.bin")}, downloader.PriorityNormal).Wait())
	require.Equal(t, afterFirst, d.GetStats().Events["loop_download_count"])
}

func TestBlockingCancelAllCancelsQueuedWork(t *testing.T) {
	pkg := buildTestPackage(t, map[string][]byte{
		"data/a.bin": []byte("a"),
		"data/b.bin": []byte("b"),
	})
	srv := httptest.NewServer(newRangeServer(pkg.raw))
	defer srv.Close()

	d := downloader.New(newConfig(t, t.TempDir(), srv.URL, pkg))
	mustInit(t, d)

	token := d.Prefetch(nil, downloader.PriorityLow)
	d.BlockingCancelAll()
	if err := token.Wait(); err != nil {
		require.Contains(t, err.Error(), "cancelled")
	}
	d.Shutdown()
}
