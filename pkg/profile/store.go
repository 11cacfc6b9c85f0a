package profile

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Applier pushes profile settings into hardware. Each call is
// independently fallible.
type Applier interface {
	SetTrafficPrioritization(enable bool) error
	SetLatencyReduction(enable bool) error
	SetBandwidthControl(enable bool) error
	SetSmartPowerManagement(enable bool) error
	OptimizeBuffers(rx, tx uint32) error
	OptimizeInterrupts(level uint32, latencyReduction bool) error
}

// FastPath is the immutable set of flags the ring-service loops read.
// A new FastPath is published for every profile generation, so readers
// always see all three flags from the same profile.
type FastPath struct {
	Generation            uint64 `json:"generation"`
	TrafficPrioritization bool   `json:"traffic_prioritization"`
	LatencyReduction      bool   `json:"latency_reduction"`
	BandwidthControl      bool   `json:"bandwidth_control"`
}

// RingConfig is a descriptor ring sizing.
type RingConfig struct {
	RxDescriptors uint32 `json:"rx_descriptors"`
	TxDescriptors uint32 `json:"tx_descriptors"`
}

// Result describes the outcome of a profile change.
type Result struct {
	Generation   uint64     `json:"generation"`
	NeedsRestart bool       `json:"needs_restart"`
	Pending      RingConfig `json:"pending"`
}

const historySize = 32

// Store holds the active profile. Writers serialize on mu; readers of the
// fast-path flags never take it.
type Store struct {
	mu           sync.Mutex
	applier      Applier
	active       GamingProfile
	gen          uint64
	staged       RingConfig
	needsRestart bool
	history      *History

	fast atomic.Pointer[FastPath]
}

// NewStore returns a store whose live rings are sized as live. No profile
// is active until the first SetActive.
func NewStore(applier Applier, live RingConfig) *Store {
	s := &Store{
		applier: applier,
		staged:  live,
		history: NewHistory(historySize),
	}
	s.fast.Store(&FastPath{})
	return s
}

// FastPath returns the flags of the current generation.
func (s *Store) FastPath() FastPath {
	return *s.fast.Load()
}

// Snapshot returns a copy of the active profile.
func (s *Store) Snapshot() GamingProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Generation returns the active profile generation; 0 means none applied.
func (s *Store) Generation() uint64 {
	return s.FastPath().Generation
}

// NeedsRestart reports whether staged descriptor counts await a restart.
func (s *Store) NeedsRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsRestart
}

// Pending returns the staged ring configuration.
func (s *Store) Pending() RingConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged
}

// History returns replaced profiles, most recent first.
func (s *Store) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.List()
}

// SetActive makes p the active profile and pushes it to hardware.
//
// The profile and its fast-path flags are replaced first, then each
// applier runs in order. A failing step is reported but earlier steps are
// not undone. Descriptor count changes are staged and only take effect
// on restart.
func (s *Store) SetActive(p GamingProfile) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setActiveLocked(p)
}

// SetFeature toggles a single feature on the active profile. The result
// is a custom profile.
func (s *Store) SetFeature(f Feature, enable bool) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.active.WithFeature(f, enable)
	p.Kind, p.Name = KindCustom, ""
	return s.setActiveLocked(p)
}

// Rollback re-activates the nth most recently replaced profile.
func (s *Store) Rollback(n int) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.history.Get(n)
	if err != nil {
		return s.resultLocked(), err
	}
	return s.setActiveLocked(e.Profile)
}

// PendingRestart returns the staged ring configuration and whether a
// restart is pending. The flag stays set until CommitRestart.
func (s *Store) PendingRestart() (cfg RingConfig, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.staged, s.needsRestart
}

// CommitRestart clears the restart flag once cfg is live. A profile
// staged since PendingRestart leaves the flag set.
func (s *Store) CommitRestart(cfg RingConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staged == cfg {
		s.needsRestart = false
	}
}

// Reapply pushes the active profile to hardware again without changing
// it, as needed after a device reset.
func (s *Store) Reapply() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == 0 {
		return nil
	}
	return s.applyLocked(s.active)
}

func (s *Store) setActiveLocked(p GamingProfile) (Result, error) {
	if s.gen > 0 {
		s.history.Push(HistoryEntry{Profile: s.active, Generation: s.gen, Replaced: time.Now()})
	}
	s.active = p
	s.gen++
	s.fast.Store(&FastPath{
		Generation:            s.gen,
		TrafficPrioritization: p.TrafficPrioritization,
		LatencyReduction:      p.LatencyReduction,
		BandwidthControl:      p.BandwidthControl,
	})

	if err := s.applyLocked(p); err != nil {
		slog.Warn("gaming profile partially applied",
			"profile", p.DisplayName(), "generation", s.gen, "err", err)
		return s.resultLocked(), err
	}

	if p.ReceiveDescriptors != 0 && p.ReceiveDescriptors != s.staged.RxDescriptors {
		s.staged.RxDescriptors = p.ReceiveDescriptors
		s.needsRestart = true
	}
	if p.TransmitDescriptors != 0 && p.TransmitDescriptors != s.staged.TxDescriptors {
		s.staged.TxDescriptors = p.TransmitDescriptors
		s.needsRestart = true
	}

	slog.Info("gaming profile applied",
		"profile", p.DisplayName(), "generation", s.gen, "needs_restart", s.needsRestart)
	return s.resultLocked(), nil
}

func (s *Store) applyLocked(p GamingProfile) error {
	a := s.applier
	if err := a.SetTrafficPrioritization(p.TrafficPrioritization); err != nil {
		return fmt.Errorf("traffic prioritization: %w", err)
	}
	if err := a.SetLatencyReduction(p.LatencyReduction); err != nil {
		return fmt.Errorf("latency reduction: %w", err)
	}
	if err := a.SetBandwidthControl(p.BandwidthControl); err != nil {
		return fmt.Errorf("bandwidth control: %w", err)
	}
	if err := a.SetSmartPowerManagement(p.SmartPowerManagement); err != nil {
		return fmt.Errorf("smart power management: %w", err)
	}
	if p.ReceiveBufferSize != 0 || p.TransmitBufferSize != 0 {
		if err := a.OptimizeBuffers(p.ReceiveBufferSize, p.TransmitBufferSize); err != nil {
			return fmt.Errorf("optimize buffers: %w", err)
		}
	}
	if p.InterruptModeration != 0 {
		if err := a.OptimizeInterrupts(p.InterruptModeration, p.LatencyReduction); err != nil {
			return fmt.Errorf("optimize interrupts: %w", err)
		}
	}
	return nil
}

func (s *Store) resultLocked() Result {
	return Result{Generation: s.gen, NeedsRestart: s.needsRestart, Pending: s.staged}
}
