package downloader

import (
	"context"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ludic-games/contentfs/pkg/archive"
	"github.com/ludic-games/contentfs/pkg/filepath"
	"github.com/ludic-games/contentfs/pkg/util"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// maxSingletonRetries bounds the number of times a single mismatched
// entry is re-fetched after a run containing it fails CRC verification,
// per spec §4.5.3 step 5 ("rescheduled (after backoff) in a new,
// singleton run").
const maxSingletonRetries = 5

// Downloader is PackageDownloader (spec §4.5): an on-disk target file
// that is incrementally materialised from a remote archive over HTTP
// range requests, reusing bytes from local fallback archives wherever
// possible. All mutations to the target file happen on a single
// background worker goroutine (spec §5 "Downloader worker").
type Downloader struct {
	cfg    Config
	logger *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queue  *requestQueue
	stats  *statsCollector
	budget *domainBudget

	initDone chan struct{}
	ok       atomic.Bool
	initErr  atomic.Pointer[error]

	writeFailure atomic.Bool

	header       archive.Header
	targetFile   targetFileHandle
	targetArchive *archive.Archive
	presence     *presenceMap

	tokensMu sync.Mutex
	tokens   []*Token
}

// targetFileHandle is the subset of *os.File the worker needs; the
// downloader always sets it from the *os.File it opens during
// initialisation.
type targetFileHandle interface {
	io.ReaderAt
	io.WriterAt
	Close() error
}

// New constructs a Downloader and immediately starts its background
// worker, which begins the initialisation pipeline of spec §4.5.2.
func New(cfg Config) *Downloader {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	var budget *domainBudget
	if !cfg.IgnoreDomainRequestBudget && cfg.DomainRequestBudget > 0 {
		budget = newDomainBudget(cfg.Clock, cfg.DomainRequestBudget, cfg.DomainRequestBudgetInterval)
	}

	d := &Downloader{
		cfg:      cfg,
		logger:   cfg.Logger.WithField("component", "downloader"),
		ctx:      ctx,
		cancel:   cancel,
		queue:    newRequestQueue(),
		stats:    newStatsCollector(),
		budget:   budget,
		initDone: make(chan struct{}),
		presence: newPresenceMap(),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Downloader) dispatch(fn func()) {
	if d.cfg.MainThreadDispatcher != nil {
		d.cfg.MainThreadDispatcher(fn)
		return
	}
	fn()
}

func (d *Downloader) newToken() *Token {
	t := newToken(d.dispatch)
	d.tokensMu.Lock()
	// Opportunistically prune finished tokens so this slice does not
	// grow without bound across a long-lived downloader's lifetime.
	live := d.tokens[:0]
	for _, existing := range d.tokens {
		select {
		case <-existing.Done():
		default:
			live = append(live, existing)
		}
	}
	d.tokens = append(live, t)
	d.tokensMu.Unlock()
	return t
}

func (d *Downloader) setInitErr(err error) {
	d.initErr.Store(&err)
}

func (d *Downloader) initError() error {
	if p := d.initErr.Load(); p != nil {
		return *p
	}
	return status.Error(codes.FailedPrecondition, "downloader: not initialised")
}

// run is the body of the background worker goroutine (spec §5
// "Downloader worker").
func (d *Downloader) run() {
	defer d.wg.Done()

	if err := d.initialise(d.ctx); err != nil {
		d.logger.WithError(err).Warn("initialisation failed")
		d.setInitErr(err)
		d.ok.Store(false)
	} else {
		d.ok.Store(true)
	}
	close(d.initDone)

	for {
		req, ok := d.queue.pop()
		if !ok {
			return
		}
		d.processRequest(d.ctx, req)
	}
}

// fetchRangeWithRetry issues an HTTP range request, retrying transient
// failures with exponential backoff (spec §4.8) until it succeeds,
// hits a permanent failure, or ctx is cancelled. When
// Config.ResendOnFailure is false a transient failure is returned at
// once, without a retry.
func (d *Downloader) fetchRangeWithRetry(ctx context.Context, rawURL string, begin, end uint64, event string) ([]byte, error) {
	backoff := util.NewBackoff(d.cfg.BackoffBase, d.cfg.BackoffGrowth, d.cfg.BackoffMax)
	for {
		if !d.budget.acquire(ctx.Done()) {
			return nil, util.StatusFromContext(ctx)
		}
		data, err := fetchRangeOnce(ctx, d.cfg.HTTPClient, rawURL, begin, end)
		if err == nil {
			d.stats.incr(event, 1)
			d.stats.addBytes(event, end-begin)
			return data, nil
		}
		if status.Code(err) != codes.Unavailable || !d.cfg.ResendOnFailure {
			return nil, err
		}
		d.stats.incr(event+"_retry", 1)
		timer, timerChan := d.cfg.Clock.NewTimer(backoff.Next())
		select {
		case <-timerChan:
		case <-ctx.Done():
			timer.Stop()
			return nil, util.StatusFromContext(ctx)
		}
	}
}

// initialise runs the init pipeline of spec §4.5.2 steps a-f.
func (d *Downloader) initialise(ctx context.Context) error {
	headerBytes, err := d.fetchRangeWithRetry(ctx, d.cfg.InitialURL, 0, archive.HeaderSize, "init_probe")
	if err != nil {
		return util.StatusWrap(err, "downloader: failed to download header")
	}
	header, err := archive.DecodeHeader(headerBytes)
	if err != nil {
		return err
	}
	d.header = header

	tableLen := uint64(header.SizeOfFileTable) + header.FileTableCRCSize()
	tableBytes, err := d.fetchRangeWithRetry(ctx, d.cfg.InitialURL, header.OffsetToFileTable, header.OffsetToFileTable+tableLen, "init_probe")
	if err != nil {
		return util.StatusWrap(err, "downloader: failed to download file table")
	}
	_, entries, err := archive.DecodeTable(tableBytes, header, 0)
	if err != nil {
		return err
	}
	table, err := archive.NewTable(header.GameDirectory, entries)
	if err != nil {
		return err
	}

	f, err := openOrCreateTargetFile(d.cfg.AbsoluteTargetPath, header.TotalPackageSize)
	if err != nil {
		d.writeFailure.Store(true)
		return err
	}
	d.targetFile = f

	if _, err := f.WriteAt(headerBytes, 0); err != nil {
		d.writeFailure.Store(true)
		return status.Errorf(codes.FailedPrecondition, "downloader: failed to write header to target: %s", err)
	}
	if _, err := f.WriteAt(tableBytes, int64(header.OffsetToFileTable)); err != nil {
		d.writeFailure.Store(true)
		return status.Errorf(codes.FailedPrecondition, "downloader: failed to write file table to target: %s", err)
	}

	if header.HasCompressionDict {
		dictFP := filepath.NewFromRelativeFilename(header.GameDirectory, archive.DictionaryEntryName(string(d.cfg.Platform)))
		dictEntry, ok := table.Lookup(dictFP)
		if !ok {
			return status.Error(codes.InvalidArgument, "downloader: compression-dict flag set but dictionary entry is missing from file table")
		}
		raw, err := d.fetchRangeWithRetry(ctx, d.cfg.InitialURL, dictEntry.Offset, dictEntry.Offset+dictEntry.CompressedSize, eventInitCDictDownload)
		if err != nil {
			return util.StatusWrap(err, "downloader: failed to download compression dictionary")
		}
		if _, err := f.WriteAt(raw, int64(dictEntry.Offset)); err != nil {
			d.writeFailure.Store(true)
			return status.Errorf(codes.FailedPrecondition, "downloader: failed to write compression dictionary to target: %s", err)
		}
	}

	targetArchive, err := archive.OpenFromReaderAt(f, nil, d.cfg.Platform)
	if err != nil {
		return util.StatusWrap(err, "downloader: failed to open target as archive after writing header/table")
	}
	d.targetArchive = targetArchive

	// Step e (spec §4.5.2): CRC-check whatever bytes are already on
	// disk — this is what makes re-opening an existing, fully or
	// partially populated target file recover its present-state
	// without a side-car metadata file (spec §4.5.6 "Cross-session"),
	// and what makes the "target is already byte-identical" fast path
	// require no entry-body HTTP requests at all.
	all := table.All(header.GameDirectory)
	for fp, e := range all {
		if crcCheckEntry(f, e) {
			d.presence.markPresent(fp)
		}
	}

	// Step f: populate anything still missing from compatible donor
	// archives.
	for _, donorPath := range d.cfg.PopulatePackages {
		d.populateFrom(donorPath, all)
	}

	return nil
}

// populateFrom attempts to copy bytes for every FilePath in all that is
// not yet present from the compatible donor archive at donorPath (spec
// §4.5.2 step f, §3 "Populate"). An incompatible or unopenable donor is
// treated as "no donation", never a hard error.
func (d *Downloader) populateFrom(donorPath string, all map[filepath.FilePath]archive.Entry) {
	donor, err := archive.Open(donorPath, d.cfg.Platform)
	if err != nil {
		d.logger.WithError(err).WithField("donor", donorPath).Debug("skipping unopenable populate package")
		return
	}
	defer donor.Close()

	if !archive.CompatibleForPopulation(d.targetArchive, donor) {
		d.logger.WithField("donor", donorPath).Debug("populate package is not compatible for cross-population")
		return
	}

	for fp, targetEntry := range all {
		if d.presence.isPresent(fp) {
			continue
		}
		donorEntry, ok := donor.FileTable().Lookup(fp)
		if !ok {
			continue
		}
		if donorEntry.CompressedSize != targetEntry.CompressedSize ||
			donorEntry.UncompressedSize != targetEntry.UncompressedSize ||
			donorEntry.CRC32Post != targetEntry.CRC32Post {
			continue
		}
		raw, err := donor.ReadRawEntry(fp)
		if err != nil {
			continue
		}
		if _, err := d.targetFile.WriteAt(raw, int64(targetEntry.Offset)); err != nil {
			d.writeFailure.Store(true)
			continue
		}
		if crcCheckEntry(d.targetFile, targetEntry) {
			d.presence.markPresent(fp)
			d.stats.incr(eventInitPopulate, 1)
			d.stats.addBytes(eventInitPopulate, uint64(len(raw)))
		}
	}
}

// allFilePaths returns every FilePath in the target archive's file
// table; used when a Fetch/Prefetch request's Files set is empty
// ("all"), per spec §4.5.3.
func (d *Downloader) allFilePaths() []filepath.FilePath {
	all := d.targetArchive.FileTable().All(d.header.GameDirectory)
	out := make([]filepath.FilePath, 0, len(all))
	for fp := range all {
		out = append(out, fp)
	}
	return out
}

type missingEntry struct {
	fp    filepath.FilePath
	entry archive.Entry
}

// processRequest executes one queued Fetch/Prefetch request to
// completion or failure (spec §4.5.3).
func (d *Downloader) processRequest(ctx context.Context, req *fetchRequest) {
	if req.token.isCancelled() {
		req.token.complete(errCancelled)
		return
	}

	<-d.initDone
	if !d.ok.Load() {
		req.token.complete(d.initError())
		return
	}

	files := req.files
	if len(files) == 0 {
		files = d.allFilePaths()
	}

	missing := make([]missingEntry, 0, len(files))
	for _, fp := range files {
		if d.presence.isPresent(fp) {
			continue
		}
		entry, ok := d.targetArchive.FileTable().Lookup(fp)
		if !ok {
			req.token.complete(status.Errorf(codes.NotFound, "downloader: no such file %q", fp))
			return
		}
		missing = append(missing, missingEntry{fp: fp, entry: entry})
	}

	if len(missing) == 0 {
		req.token.complete(nil)
		return
	}

	d.stats.incr(eventLoopFetchSet, 1)

	sort.Slice(missing, func(i, j int) bool { return missing[i].entry.Offset < missing[j].entry.Offset })
	ranges := make([]entryRange, len(missing))
	for i, me := range missing {
		ranges[i] = entryRange{begin: me.entry.Offset, end: me.entry.Offset + me.entry.CompressedSize}
	}
	runs := planFetchRuns(ranges, d.cfg.UpperBoundMaxBytesPerRequest, d.cfg.MaxRedownloadOverflowBytes)

	idx := 0
	for _, run := range runs {
		if req.token.isCancelled() {
			req.token.complete(errCancelled)
			return
		}

		data, err := d.fetchRangeWithRetry(ctx, d.cfg.InitialURL, run.Begin, run.End, eventLoopDownload)
		if err != nil {
			req.token.complete(err)
			return
		}
		if _, err := d.targetFile.WriteAt(data, int64(run.Begin)); err != nil {
			d.writeFailure.Store(true)
			req.token.complete(status.Errorf(codes.FailedPrecondition, "downloader: failed to write run [%d,%d): %s", run.Begin, run.End, err))
			return
		}

		for idx < len(missing) && missing[idx].entry.Offset >= run.Begin && missing[idx].entry.Offset+missing[idx].entry.CompressedSize <= run.End {
			me := missing[idx]
			idx++
			if crcCheckEntry(d.targetFile, me.entry) {
				d.presence.markPresent(me.fp)
				continue
			}
			if err := d.retrySingletonEntry(ctx, me); err != nil {
				req.token.complete(err)
				return
			}
		}
	}

	d.stats.incr(eventLoopProcess, 1)

	if req.token.isCancelled() {
		req.token.complete(errCancelled)
		return
	}
	req.token.complete(nil)
}

// retrySingletonEntry re-fetches exactly one entry's bytes, retrying up
// to maxSingletonRetries times with backoff when the CRC32 keeps
// failing (spec §4.5.3 step 5: "rescheduled (after backoff) in a new,
// singleton run").
func (d *Downloader) retrySingletonEntry(ctx context.Context, me missingEntry) error {
	backoff := util.NewBackoff(d.cfg.BackoffBase, d.cfg.BackoffGrowth, d.cfg.BackoffMax)
	for attempt := 0; attempt < maxSingletonRetries; attempt++ {
		data, err := d.fetchRangeWithRetry(ctx, d.cfg.InitialURL, me.entry.Offset, me.entry.Offset+me.entry.CompressedSize, eventLoopDownload)
		if err != nil {
			return err
		}
		if _, err := d.targetFile.WriteAt(data, int64(me.entry.Offset)); err != nil {
			d.writeFailure.Store(true)
			return status.Errorf(codes.FailedPrecondition, "downloader: failed to write entry %q: %s", me.fp, err)
		}
		if crcCheckEntry(d.targetFile, me.entry) {
			d.presence.markPresent(me.fp)
			return nil
		}
		timer, timerChan := d.cfg.Clock.NewTimer(backoff.Next())
		select {
		case <-timerChan:
		case <-ctx.Done():
			timer.Stop()
			return util.StatusFromContext(ctx)
		}
	}
	return status.Errorf(codes.DataLoss, "downloader: entry %q failed crc32 check after %d retries", me.fp, maxSingletonRetries)
}

func (d *Downloader) enqueue(kind requestKind, files []filepath.FilePath, priority Priority, lane Lane) *Token {
	token := d.newToken()
	d.queue.push(&fetchRequest{kind: kind, files: files, priority: priority, lane: lane, token: token})
	return token
}

// Fetch requests that files (or every file, if empty) be materialised,
// returning a Token the caller may Wait() on or attach a callback to
// (spec §6.4).
func (d *Downloader) Fetch(files []filepath.FilePath, priority Priority) *Token {
	return d.enqueue(requestKindFetch, files, priority, DefaultLane)
}

// FetchLane behaves like Fetch but assigns the request to an explicit
// lane, controlling its ordering relative to other requests in the same
// lane (spec §4.5.3, §5 "Ordering guarantees").
func (d *Downloader) FetchLane(files []filepath.FilePath, priority Priority, lane Lane) *Token {
	return d.enqueue(requestKindFetch, files, priority, lane)
}

// Prefetch behaves like Fetch but signals background intent rather than
// a caller blocking on the result.
func (d *Downloader) Prefetch(files []filepath.FilePath, priority Priority) *Token {
	return d.enqueue(requestKindPrefetch, files, priority, DefaultLane)
}

// PrefetchLane is the lane-scoped counterpart to Prefetch.
func (d *Downloader) PrefetchLane(files []filepath.FilePath, priority Priority, lane Lane) *Token {
	return d.enqueue(requestKindPrefetch, files, priority, lane)
}

// BlockingCancelAll cancels every outstanding request, including the
// in-flight one, which completes as Cancelled after its current HTTP
// range; still-queued requests are removed and completed as Cancelled at
// once. It then blocks until every request has completed (spec §4.5.4).
func (d *Downloader) BlockingCancelAll() {
	d.tokensMu.Lock()
	tokens := append([]*Token(nil), d.tokens...)
	d.tokensMu.Unlock()

	for _, t := range tokens {
		t.Cancel()
	}
	d.queue.removeCancelled()
	for _, t := range tokens {
		t.Wait()
	}
}

// IsInitializationComplete reports whether the init pipeline has
// finished (successfully or not).
func (d *Downloader) IsInitializationComplete() bool {
	select {
	case <-d.initDone:
		return true
	default:
		return false
	}
}

// IsOk reports whether initialisation succeeded and the downloader is
// serving reads.
func (d *Downloader) IsOk() bool {
	return d.ok.Load()
}

// HasExperiencedWriteFailure reports the sticky local-write-failure
// state of spec §4.5.2/§7.
func (d *Downloader) HasExperiencedWriteFailure() bool {
	return d.writeFailure.Load()
}

// HasWork reports whether any Fetch/Prefetch request is still queued.
func (d *Downloader) HasWork() bool {
	return d.queue.len() > 0
}

// GetStats returns a snapshot of the progress counters of spec §4.5.3.
func (d *Downloader) GetStats() Stats {
	return d.stats.snapshot()
}

// GetFileTable returns every FilePath→Entry pair known to the
// downloader, or nil if initialisation has not completed successfully.
func (d *Downloader) GetFileTable() map[filepath.FilePath]archive.Entry {
	<-d.initDone
	if !d.ok.Load() {
		return nil
	}
	return d.targetArchive.FileTable().All(d.header.GameDirectory)
}

// Exists reports whether fp is present in the file table (regardless of
// whether its bytes have been fetched yet).
func (d *Downloader) Exists(fp filepath.FilePath) bool {
	<-d.initDone
	return d.ok.Load() && d.targetArchive.Exists(fp)
}

// FileSize returns the logical (uncompressed) size of fp.
func (d *Downloader) FileSize(fp filepath.FilePath) (uint64, error) {
	<-d.initDone
	if !d.ok.Load() {
		return 0, d.initError()
	}
	return d.targetArchive.FileSize(fp)
}

// ModifiedTime returns the modification timestamp recorded for fp.
func (d *Downloader) ModifiedTime(fp filepath.FilePath) (uint64, error) {
	<-d.initDone
	if !d.ok.Load() {
		return 0, d.initError()
	}
	return d.targetArchive.ModifiedTime(fp)
}

// IsServicedByNetwork reports whether reading fp would require an HTTP
// fetch (spec §4.5.3 "Ready: serves reads ... entries report
// IsServicedByNetwork(fp) = true").
func (d *Downloader) IsServicedByNetwork(fp filepath.FilePath) bool {
	<-d.initDone
	if !d.ok.Load() || !d.targetArchive.Exists(fp) {
		return false
	}
	return !d.presence.isPresent(fp)
}

// Open returns a seekable stream over fp's logical contents (spec
// §4.5.5): a synchronous fetch is issued first if the entry is not yet
// verified present.
func (d *Downloader) Open(fp filepath.FilePath) (*archive.ReadStream, error) {
	<-d.initDone
	if !d.ok.Load() {
		return nil, d.initError()
	}
	if !d.presence.isPresent(fp) {
		token := d.Fetch([]filepath.FilePath{fp}, d.cfg.DefaultFetchPriority)
		if err := token.Wait(); err != nil {
			return nil, err
		}
	}
	return d.targetArchive.OpenStream(fp)
}

// ReadAll opens and fully drains fp's stream.
func (d *Downloader) ReadAll(fp filepath.FilePath) ([]byte, error) {
	s, err := d.Open(fp)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return io.ReadAll(s)
}

// Shutdown cancels the worker's context, which aborts any in-flight HTTP
// range request rather than letting it finish, stops accepting new work
// on the queue, joins the worker goroutine once it has completed every
// request still queued (any that needs the network fails with the
// cancellation error), and closes the target file (spec §5 "destruction
// signals the worker to exit, then joins it").
func (d *Downloader) Shutdown() {
	d.cancel()
	d.queue.close()
	d.wg.Wait()
	if d.targetFile != nil {
		d.targetFile.Close()
	}
}
