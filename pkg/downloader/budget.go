package downloader

import (
	"sync"
	"time"

	"github.com/ludic-games/contentfs/pkg/clock"
)

// domainBudget implements the per-origin request budget of spec §4.8:
// an integer budget decrements per request and regenerates one unit per
// configured interval; requests beyond the budget wait until one
// regenerates, unless the caller opted out via Config.IgnoreDomainRequestBudget.
type domainBudget struct {
	mu         sync.Mutex
	clock      clock.Clock
	limit      int
	interval   time.Duration
	available  int
	lastRefill time.Time
}

func newDomainBudget(c clock.Clock, limit int, interval time.Duration) *domainBudget {
	if limit <= 0 {
		return nil
	}
	return &domainBudget{
		clock:      c,
		limit:      limit,
		interval:   interval,
		available:  limit,
		lastRefill: c.Now(),
	}
}

func (b *domainBudget) refillLocked() {
	if b.interval <= 0 {
		b.available = b.limit
		return
	}
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill)
	units := int(elapsed / b.interval)
	if units <= 0 {
		return
	}
	b.available += units
	if b.available > b.limit {
		b.available = b.limit
	}
	b.lastRefill = b.lastRefill.Add(time.Duration(units) * b.interval)
}

// acquire blocks (waiting one regeneration interval at a time, and
// returning false as soon as stop is closed) until a budget unit is
// available, then consumes it.
func (b *domainBudget) acquire(stop <-chan struct{}) bool {
	if b == nil {
		return true
	}
	for {
		b.mu.Lock()
		b.refillLocked()
		if b.available > 0 {
			b.available--
			b.mu.Unlock()
			return true
		}
		wait := b.interval
		b.mu.Unlock()
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			return false
		}
	}
}
