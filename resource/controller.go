// Package resource provides admission control for index serving: bounded
// search concurrency, request rate limiting, and snapshot IO throttling.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds serving limits.
type Config struct {
	// MaxConcurrentSearches bounds the number of searches executing at once.
	// If 0, defaults to 64.
	MaxConcurrentSearches int64 `yaml:"max_concurrent_searches"`

	// MaxConcurrentWrites bounds the number of mutating requests (adds,
	// deletes, snapshot operations) admitted at once. If 0, defaults to 1.
	MaxConcurrentWrites int64 `yaml:"max_concurrent_writes"`

	// RequestsPerSec is the global request admission rate. If 0, unlimited.
	RequestsPerSec float64 `yaml:"requests_per_sec"`

	// RequestBurst is the burst size for the request limiter.
	// If 0, defaults to the integer part of RequestsPerSec.
	RequestBurst int `yaml:"request_burst"`

	// SnapshotIOBytesPerSec throttles snapshot reads and writes.
	// If 0, unlimited.
	SnapshotIOBytesPerSec int64 `yaml:"snapshot_io_bytes_per_sec"`
}

// Controller enforces the limits in Config. The zero value of *Controller
// (nil) enforces nothing, so callers can thread it through unconditionally.
type Controller struct {
	searchSem *semaphore.Weighted
	writeSem  *semaphore.Weighted

	reqLimiter *rate.Limiter
	ioLimiter  *rate.Limiter

	inFlight atomic.Int64
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentSearches <= 0 {
		cfg.MaxConcurrentSearches = 64
	}
	if cfg.MaxConcurrentWrites <= 0 {
		cfg.MaxConcurrentWrites = 1
	}

	c := &Controller{
		searchSem: semaphore.NewWeighted(cfg.MaxConcurrentSearches),
		writeSem:  semaphore.NewWeighted(cfg.MaxConcurrentWrites),
	}

	if cfg.RequestsPerSec > 0 {
		burst := cfg.RequestBurst
		if burst <= 0 {
			burst = int(cfg.RequestsPerSec)
			if burst < 1 {
				burst = 1
			}
		}
		c.reqLimiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}

	if cfg.SnapshotIOBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.SnapshotIOBytesPerSec), int(cfg.SnapshotIOBytesPerSec))
	}

	return c
}

// AdmitRequest applies the global rate limit without blocking.
// Returns false when the request should be rejected.
func (c *Controller) AdmitRequest() bool {
	if c == nil || c.reqLimiter == nil {
		return true
	}
	return c.reqLimiter.Allow()
}

// AcquireSearch reserves a search slot, blocking until one is free or ctx
// is canceled.
func (c *Controller) AcquireSearch(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.searchSem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.inFlight.Add(1)
	return nil
}

// TryAcquireSearch reserves a search slot without blocking.
func (c *Controller) TryAcquireSearch() bool {
	if c == nil {
		return true
	}
	if !c.searchSem.TryAcquire(1) {
		return false
	}
	c.inFlight.Add(1)
	return true
}

// ReleaseSearch returns a search slot.
func (c *Controller) ReleaseSearch() {
	if c == nil {
		return
	}
	c.inFlight.Add(-1)
	c.searchSem.Release(1)
}

// AcquireWrite reserves a write slot, blocking until one is free or ctx
// is canceled.
func (c *Controller) AcquireWrite(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.writeSem.Acquire(ctx, 1)
}

// ReleaseWrite returns a write slot.
func (c *Controller) ReleaseWrite() {
	if c == nil {
		return
	}
	c.writeSem.Release(1)
}

// InFlightSearches returns the number of searches currently admitted.
func (c *Controller) InFlightSearches() int64 {
	if c == nil {
		return 0
	}
	return c.inFlight.Load()
}

// WaitIO blocks until the snapshot IO budget allows n bytes.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	if n <= 0 {
		return nil
	}
	// WaitN rejects requests above the burst outright, so split them.
	burst := c.ioLimiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := c.ioLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
