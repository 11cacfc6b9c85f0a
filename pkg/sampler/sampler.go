// Package sampler feeds the latency and bandwidth gauges of a Stats
// from periodic measurements.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/psaab/nicqos/pkg/stats"
)

// Source reports cumulative byte counters.
type Source interface {
	Counters() (rx, tx uint64, err error)
}

// StatsSource reads the engine's own byte accounting.
type StatsSource struct {
	Stats *stats.Stats
}

func (s StatsSource) Counters() (rx, tx uint64, err error) {
	rx, tx = s.Stats.ByteCounters()
	return rx, tx, nil
}

// Prober measures one round trip.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}

// Sampler periodically samples a Source and a Prober into a Stats.
type Sampler struct {
	stats    *stats.Stats
	src      Source
	prober   Prober
	interval time.Duration
	now      func() time.Duration

	mu       sync.Mutex
	primed   bool
	lastAt   time.Duration
	lastRx   uint64
	lastTx   uint64
	failures int
}

// New creates a sampler. prober may be nil to skip latency probes.
func New(st *stats.Stats, src Source, prober Prober, interval time.Duration) *Sampler {
	return &Sampler{
		stats:    st,
		src:      src,
		prober:   prober,
		interval: interval,
		now:      monotonicNow,
	}
}

// Run samples every interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	slog.Info("sampler started", "interval", s.interval, "probe", s.prober != nil)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sampler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sampler) tick(ctx context.Context) {
	if err := s.Sample(ctx); err != nil {
		if ctx.Err() == nil {
			s.noteFailure(err)
		}
		return
	}
	s.noteSuccess()
}

// Sample takes one measurement. The first call only primes the counters.
func (s *Sampler) Sample(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rx, tx, err := s.src.Counters()
	if err != nil {
		return fmt.Errorf("read counters: %w", err)
	}
	at := s.now()
	if s.primed && at > s.lastAt {
		// Counters that went backwards were reset; skip this interval.
		if rx >= s.lastRx && tx >= s.lastTx {
			bits := float64((rx-s.lastRx)+(tx-s.lastTx)) * 8
			s.stats.ObserveBandwidth(bits / 1000 / (at - s.lastAt).Seconds())
		}
	}
	s.primed = true
	s.lastAt, s.lastRx, s.lastTx = at, rx, tx

	if s.prober == nil {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()
	rtt, err := s.prober.Probe(pctx)
	if err != nil {
		return fmt.Errorf("latency probe: %w", err)
	}
	s.stats.ObserveLatency(rtt)
	return nil
}

// noteFailure logs the first failure of a run at warn and the rest at debug.
func (s *Sampler) noteFailure(err error) {
	s.mu.Lock()
	s.failures++
	n := s.failures
	s.mu.Unlock()
	if n == 1 {
		slog.Warn("sample failed", "err", err)
	} else {
		slog.Debug("sample failed", "err", err, "consecutive", n)
	}
}

func (s *Sampler) noteSuccess() {
	s.mu.Lock()
	n := s.failures
	s.failures = 0
	s.mu.Unlock()
	if n > 0 {
		slog.Info("sampling recovered", "failed", n)
	}
}

// monotonicNow reads CLOCK_MONOTONIC, which is unaffected by wall clock steps.
func monotonicNow() time.Duration {
	var ts unix.Timespec
	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return time.Duration(ts.Nano())
}
