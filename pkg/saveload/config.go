package saveload

import (
	"time"

	"github.com/ludic-games/contentfs/pkg/clock"
	"github.com/ludic-games/contentfs/pkg/util"
	"github.com/sirupsen/logrus"
)

// Config enumerates the SaveLoadService's construction-time
// configuration.
type Config struct {
	// AbsoluteSaveDirectory is the directory each slot's local blob is
	// written under, keyed by its RelativeFilename.
	AbsoluteSaveDirectory string

	LocalAPI   LocalAPI
	HTTPClient util.HTTPClient
	Clock      clock.Clock
	Logger     *logrus.Entry

	// CloudSaveRateLimit bounds how often a single slot may attempt a
	// non-forced cloud save.
	CloudSaveRateLimit time.Duration

	BackoffBase     time.Duration
	BackoffGrowth   float64
	BackoffMax      time.Duration
	ResendOnFailure bool

	// MainThreadDispatcher, if set, is used to run callbacks registered
	// with OnMainThread true. If nil, such callbacks run directly on
	// the worker goroutine.
	MainThreadDispatcher func(func())
}

// WithDefaults returns a copy of c with every unset field replaced by
// its production default.
func (c Config) WithDefaults() Config {
	if c.LocalAPI == nil {
		c.LocalAPI = DefaultLocalAPI
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
	if c.CloudSaveRateLimit == 0 {
		c.CloudSaveRateLimit = 30 * time.Second
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffGrowth == 0 {
		c.BackoffGrowth = 2
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}
