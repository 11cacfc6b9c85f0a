// Package adapter owns one NIC's QoS state: the active profile, the
// statistics block, the rings and the register device.
package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/engine"
	"github.com/psaab/nicqos/pkg/hw"
	"github.com/psaab/nicqos/pkg/profile"
	"github.com/psaab/nicqos/pkg/ring"
	"github.com/psaab/nicqos/pkg/stats"
)

// Lifecycle is the part of an adapter the daemon drives.
type Lifecycle interface {
	Init(p profile.GamingProfile) (profile.Result, error)
	Restart() (RestartResult, error)
	Close() error
}

var _ Lifecycle = (*Adapter)(nil)

var _ profile.Applier = (*hw.Tuner)(nil)

// ErrRingsBusy is returned by Restart while a caller holds the rings.
var ErrRingsBusy = errors.New("rings are being serviced")

// Options configures a new Adapter.
type Options struct {
	Name      string
	Registers hw.RegisterSpace
	// Ports defaults to classify.DefaultPortTable.
	Ports *classify.PortTable
	// Rings is the initial descriptor ring sizing; zero fields default to 256.
	Rings profile.RingConfig
	// FragmentsPerPacket sizes the fragment rings; defaults to 4.
	FragmentsPerPacket uint32
	Dispatcher         engine.Dispatcher
}

const (
	defaultDescriptors        = 256
	defaultFragmentsPerPacket = 4
)

type queues struct {
	cfg profile.RingConfig
	tx  *engine.TxQueue
	rx  *engine.RxQueue
}

// Adapter is the per-device context handle.
type Adapter struct {
	name           string
	dev            *hw.Device
	tuner          *hw.Tuner
	store          *profile.Store
	stats          *stats.Stats
	ports          *classify.PortTable
	eng            *engine.Engine
	dispatch       engine.Dispatcher
	fragsPerPacket uint32
	started        time.Time

	mu       sync.Mutex // serializes Init, Restart, Close and Hold
	holders  int        // guarded by mu
	restarts atomic.Uint64
	cur      atomic.Pointer[queues]
}

// New builds an adapter and its rings. Call Init before servicing rings.
func New(opts Options) (*Adapter, error) {
	dev, err := hw.NewDevice(opts.Registers)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", opts.Name, err)
	}
	ports := opts.Ports
	if ports == nil {
		ports = classify.DefaultPortTable()
	}
	rings := opts.Rings
	if rings.RxDescriptors == 0 {
		rings.RxDescriptors = defaultDescriptors
	}
	if rings.TxDescriptors == 0 {
		rings.TxDescriptors = defaultDescriptors
	}
	fpp := opts.FragmentsPerPacket
	if fpp == 0 {
		fpp = defaultFragmentsPerPacket
	}

	tuner := hw.NewTuner(dev)
	a := &Adapter{
		name:           opts.Name,
		dev:            dev,
		tuner:          tuner,
		store:          profile.NewStore(tuner, rings),
		stats:          stats.New(),
		ports:          ports,
		dispatch:       opts.Dispatcher,
		fragsPerPacket: fpp,
		started:        time.Now(),
	}
	a.eng = engine.New(a.store, ports, a.stats)

	q, err := a.buildQueues(rings)
	if err != nil {
		return nil, fmt.Errorf("adapter %s: %w", opts.Name, err)
	}
	a.cur.Store(q)
	return a, nil
}

func (a *Adapter) buildQueues(cfg profile.RingConfig) (*queues, error) {
	txq, err := ring.NewQueue(cfg.TxDescriptors, cfg.TxDescriptors*a.fragsPerPacket)
	if err != nil {
		return nil, fmt.Errorf("tx queue: %w", err)
	}
	rxq, err := ring.NewQueue(cfg.RxDescriptors, cfg.RxDescriptors*a.fragsPerPacket)
	if err != nil {
		return nil, fmt.Errorf("rx queue: %w", err)
	}
	return &queues{
		cfg: cfg,
		tx:  a.eng.NewTxQueue(txq, a.dispatch),
		rx:  a.eng.NewRxQueue(rxq),
	}, nil
}

// Name returns the adapter name.
func (a *Adapter) Name() string { return a.name }

// Init resets statistics, programs the rings, brings the MAC up and
// applies p.
func (a *Adapter) Init(p profile.GamingProfile) (profile.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.Reset()
	cfg := a.cur.Load().cfg
	if err := a.tuner.ProgramRings(cfg.RxDescriptors, cfg.TxDescriptors); err != nil {
		return profile.Result{}, fmt.Errorf("program rings: %w", err)
	}
	a.dev.Or(hw.RegCTRL, hw.CtrlSLU)
	a.dev.Or(hw.RegRCTL, hw.RctlEN|hw.RctlBAM|hw.RctlSECRC)
	a.dev.Or(hw.RegTCTL, hw.TctlEN)

	res, err := a.store.SetActive(p)
	if err != nil {
		return res, fmt.Errorf("apply initial profile: %w", err)
	}
	slog.Info("adapter initialized", "adapter", a.name, "profile", p.DisplayName(),
		"rx_descriptors", cfg.RxDescriptors, "tx_descriptors", cfg.TxDescriptors)
	return res, nil
}

// ApplyProfile makes p the active profile.
func (a *Adapter) ApplyProfile(p profile.GamingProfile) (profile.Result, error) {
	return a.store.SetActive(p)
}

// SetFeature toggles one feature of the active profile.
func (a *Adapter) SetFeature(f profile.Feature, enable bool) (profile.Result, error) {
	return a.store.SetFeature(f, enable)
}

// Rollback re-activates the nth most recently replaced profile.
func (a *Adapter) Rollback(n int) (profile.Result, error) {
	return a.store.Rollback(n)
}

// ActiveProfile returns a copy of the active profile.
func (a *Adapter) ActiveProfile() profile.GamingProfile {
	return a.store.Snapshot()
}

// ProfileHistory returns replaced profiles, most recent first.
func (a *Adapter) ProfileHistory() []profile.HistoryEntry {
	return a.store.History()
}

// PerformanceStats returns a snapshot of the statistics.
func (a *Adapter) PerformanceStats() stats.Snapshot {
	return a.stats.Snapshot()
}

// Stats returns the live statistics block for samplers.
func (a *Adapter) Stats() *stats.Stats {
	return a.stats
}

// Classify reports how a port pair would be classified.
func (a *Adapter) Classify(src, dst uint16) (classify.TrafficClass, classify.PriorityLevel) {
	c := a.ports.Classify(src, dst)
	return c, classify.Assign(c)
}

// Ports returns the adapter's port table.
func (a *Adapter) Ports() *classify.PortTable {
	return a.ports
}

// Registers dumps the QoS-related registers.
func (a *Adapter) Registers() []hw.RegisterValue {
	return a.dev.Dump()
}

// RegisterDrops returns how many out-of-range register accesses were ignored.
func (a *Adapter) RegisterDrops() uint64 { return a.dev.Dropped() }

// RegisterErr reports whether the register space is still usable.
func (a *Adapter) RegisterErr() error { return a.dev.Err() }

// TxQueue returns the current transmit rings for producers.
func (a *Adapter) TxQueue() *ring.Queue { return a.cur.Load().tx.Queue() }

// RxQueue returns the current receive rings for producers.
func (a *Adapter) RxQueue() *ring.Queue { return a.cur.Load().rx.Queue() }

// ServiceTx runs one transmit ring-service event.
func (a *Adapter) ServiceTx() int { return a.cur.Load().tx.Advance() }

// ServiceRx runs one receive ring-service event.
func (a *Adapter) ServiceRx() int { return a.cur.Load().rx.Advance() }

// RestartResult describes what a restart changed.
type RestartResult struct {
	Rings   profile.RingConfig `json:"rings"`
	Resized bool               `json:"resized"`
}

// Restart applies staged descriptor counts, clears the restart flag and
// pushes the active profile to hardware again. If the rings cannot be
// rebuilt or reprogrammed the flag stays set. The caller must have
// stopped servicing the old rings; packets still on them are dropped.
func (a *Adapter) Restart() (RestartResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.holders > 0 {
		return RestartResult{Rings: a.cur.Load().cfg}, ErrRingsBusy
	}
	old := a.cur.Load()
	cfg, pending := a.store.PendingRestart()
	res := RestartResult{Rings: old.cfg}
	if pending && cfg != old.cfg {
		q, err := a.buildQueues(cfg)
		if err != nil {
			return res, fmt.Errorf("rebuild rings: %w", err)
		}
		if err := a.tuner.ProgramRings(cfg.RxDescriptors, cfg.TxDescriptors); err != nil {
			return res, fmt.Errorf("program rings: %w", err)
		}
		a.cur.Store(q)
		res = RestartResult{Rings: cfg, Resized: true}
	}
	if pending {
		a.store.CommitRestart(cfg)
	}
	if err := a.store.Reapply(); err != nil {
		return res, fmt.Errorf("reapply profile: %w", err)
	}
	n := a.restarts.Add(1)
	slog.Info("adapter restarted", "adapter", a.name, "resized", res.Resized,
		"rx_descriptors", res.Rings.RxDescriptors, "tx_descriptors", res.Rings.TxDescriptors, "restarts", n)
	return res, nil
}

// Hold marks the current rings as in use until release is called.
// Restart fails with ErrRingsBusy while any hold is outstanding, so a
// long-running producer never posts to rings that were swapped out.
func (a *Adapter) Hold() (release func()) {
	a.mu.Lock()
	a.holders++
	a.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			a.holders--
			a.mu.Unlock()
		})
	}
}

// Close disables the receiver and transmitter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dev.AndNot(hw.RegRCTL, hw.RctlEN)
	a.dev.AndNot(hw.RegTCTL, hw.TctlEN)
	return a.dev.Err()
}

// Status summarizes the adapter for reporting surfaces.
type Status struct {
	Name         string             `json:"name"`
	Profile      string             `json:"profile"`
	Generation   uint64             `json:"generation"`
	NeedsRestart bool               `json:"needs_restart"`
	Live         profile.RingConfig `json:"live_rings"`
	Pending      profile.RingConfig `json:"pending_rings"`
	Restarts     uint64             `json:"restarts"`
	Uptime       string             `json:"uptime"`
	FastPath     profile.FastPath   `json:"fast_path"`
	Moderation   string             `json:"moderation_band"`
	Thresholds   hw.Thresholds      `json:"dma_thresholds"`
}

// Status returns the current adapter status.
func (a *Adapter) Status() Status {
	p := a.store.Snapshot()
	band := hw.BandFor(p.InterruptModeration)
	if p.LatencyReduction {
		band = hw.BandMinimal
	}
	return Status{
		Name:         a.name,
		Profile:      p.DisplayName(),
		Generation:   a.store.Generation(),
		NeedsRestart: a.store.NeedsRestart(),
		Live:         a.cur.Load().cfg,
		Pending:      a.store.Pending(),
		Restarts:     a.restarts.Load(),
		Uptime:       time.Since(a.started).Truncate(time.Second).String(),
		FastPath:     a.store.FastPath(),
		Moderation:   band.String(),
		Thresholds:   a.tuner.ReadThresholds(),
	}
}
