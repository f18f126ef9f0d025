// Package downloader implements PackageDownloader (spec §4.5): a
// single target archive file on disk that is incrementally materialised
// from a remote archive over HTTP range requests, reusing bytes from
// local fallback archives wherever possible.
package downloader

import (
	"time"

	"github.com/ludic-games/contentfs/pkg/archive"
	"github.com/ludic-games/contentfs/pkg/clock"
	"github.com/ludic-games/contentfs/pkg/util"
	"github.com/sirupsen/logrus"
)

// Priority biases scheduling order among queued requests (spec §4.5.3).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityCritical
)

// Lane is a scheduling tag: requests sharing a lane complete in
// submission order; cross-lane requests may interleave (spec §4.5.3,
// §5 "Ordering guarantees").
type Lane uint32

// DefaultLane is used by callers that don't care about lane ordering.
const DefaultLane Lane = 0

const (
	// defaultUpperBoundMaxBytesPerRequest is the non-conservative
	// default ceiling on a single HTTP range request (spec §4.5.1).
	defaultUpperBoundMaxBytesPerRequest = 1 << 20 // 1 MiB
	// ConservativeUpperBoundMaxBytesPerRequest is the smaller ceiling
	// named by spec §4.5.1 for bandwidth-constrained profiles.
	ConservativeUpperBoundMaxBytesPerRequest = 256 << 10 // 256 KiB

	// defaultCRCCheckConcurrency bounds concurrent target-file reads
	// during PerformCRC32Check.
	defaultCRCCheckConcurrency = 8
)

// Config enumerates the PackageDownloader's construction-time
// configuration (spec §4.5.1).
type Config struct {
	// AbsoluteTargetPath is the on-disk file to materialise.
	AbsoluteTargetPath string
	// InitialURL is the HTTP URL of the canonical remote archive.
	InitialURL string
	// Platform is the platform tag both the target and any donor
	// archives must share.
	Platform archive.Platform
	// PopulatePackages is an ordered list of absolute paths to other
	// local archives that may donate bytes during init.
	PopulatePackages []string

	// UpperBoundMaxBytesPerRequest bounds a single HTTP range request.
	// Zero selects defaultUpperBoundMaxBytesPerRequest.
	UpperBoundMaxBytesPerRequest uint64
	// MaxRedownloadOverflowBytes bounds the unrequested gap bytes that
	// may be swept into a coalesced run (spec §4.5.3 step 3).
	MaxRedownloadOverflowBytes uint64
	// DefaultFetchPriority is used by callers that don't specify one.
	DefaultFetchPriority Priority

	// IgnoreDomainRequestBudget bypasses the per-origin request budget
	// of spec §4.8.
	IgnoreDomainRequestBudget bool
	// DomainRequestBudget is the number of requests per DomainRequestBudgetInterval
	// allowed against InitialURL's origin. Zero means unlimited.
	DomainRequestBudget int
	// DomainRequestBudgetInterval is the regeneration period for one
	// budget unit.
	DomainRequestBudgetInterval time.Duration

	// BackoffBase, BackoffGrowth and BackoffMax parameterise the
	// exponential backoff policy of spec §4.8.
	BackoffBase   time.Duration
	BackoffGrowth float64
	BackoffMax    time.Duration

	// ResendOnFailure mirrors spec §5: "on timeout the request is
	// treated as a transient failure and retried under backoff unless
	// resend_on_failure is false".
	ResendOnFailure bool

	// MainThreadDispatcher, if set, is used to deliver callbacks that
	// request main-thread delivery (spec §5: "posts completion
	// callbacks either back to the main thread ... or inline"). If
	// nil, such callbacks are invoked inline on the worker goroutine.
	MainThreadDispatcher func(func())

	HTTPClient util.HTTPClient
	Clock      clock.Clock
	Logger     *logrus.Entry

	// CRCCheckConcurrency bounds the number of entries PerformCRC32Check
	// reads from the target file concurrently. Zero selects
	// defaultCRCCheckConcurrency.
	CRCCheckConcurrency int
}

// WithDefaults returns a copy of c with zero-valued fields replaced by
// their defaults.
func (c Config) WithDefaults() Config {
	if c.UpperBoundMaxBytesPerRequest == 0 {
		c.UpperBoundMaxBytesPerRequest = defaultUpperBoundMaxBytesPerRequest
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 100 * time.Millisecond
	}
	if c.BackoffGrowth == 0 {
		c.BackoffGrowth = 1.5
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.DomainRequestBudgetInterval == 0 {
		c.DomainRequestBudgetInterval = time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = util.DefaultHTTPClient
	}
	if c.Clock == nil {
		c.Clock = clock.SystemClock
	}
	if c.Logger == nil {
		c.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if c.CRCCheckConcurrency == 0 {
		c.CRCCheckConcurrency = defaultCRCCheckConcurrency
	}
	return c
}
