// Package dataplane publishes the adapter's register file and port table
// in pinned BPF maps, so an XDP or TC program and external tools see the
// same state the daemon tunes.
package dataplane

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/multierr"

	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/hw"
)

// Compile-time assertion that Manager implements DataPlane.
var _ DataPlane = (*Manager)(nil)

// Map names. The kernel truncates names to 15 bytes.
const (
	RegsMapName  = "nicqos_regs"
	PortsMapName = "nicqos_ports"
)

// ErrNotLoaded is returned by map operations before Load.
var ErrNotLoaded = errors.New("dataplane maps not loaded")

// DataPlane is the BPF side of the adapter.
type DataPlane interface {
	// Lifecycle
	Load() error
	IsLoaded() bool
	Close() error
	Teardown() error // close and unpin every map

	// Registers returns the register file backed by the regs map.
	Registers() hw.RegisterSpace

	// Port classes
	SyncPortTable(t *classify.PortTable) (int, error)
	LookupPort(port uint16) (classify.TrafficClass, bool, error)
}

// Manager owns the pinned maps.
type Manager struct {
	pinPath string

	mu     sync.RWMutex
	loaded bool
	maps   map[string]*ebpf.Map
	regs   *registerMap
}

// New creates a Manager that pins its maps under pinPath. An empty
// pinPath keeps the maps private to the process.
func New(pinPath string) *Manager {
	return &Manager{pinPath: pinPath, maps: make(map[string]*ebpf.Map)}
}

func mapSpecs() []*ebpf.MapSpec {
	return []*ebpf.MapSpec{
		{
			Name:       RegsMapName,
			Type:       ebpf.Array,
			KeySize:    4,
			ValueSize:  4,
			MaxEntries: hw.RegisterSpaceSize / 4,
		},
		{
			Name:       PortsMapName,
			Type:       ebpf.Hash,
			KeySize:    2,
			ValueSize:  1,
			MaxEntries: 1 << 16,
		},
	}
}

// Load creates the maps, or opens them if they are already pinned.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		slog.Warn("failed to remove memlock limit", "err", err)
	}

	var opts ebpf.MapOptions
	if m.pinPath != "" {
		if err := os.MkdirAll(m.pinPath, 0o755); err != nil {
			return fmt.Errorf("create pin path: %w", err)
		}
		opts.PinPath = m.pinPath
	}

	for _, spec := range mapSpecs() {
		if m.pinPath != "" {
			spec.Pinning = ebpf.PinByName
		}
		bm, err := ebpf.NewMapWithOptions(spec, opts)
		if err != nil {
			m.closeLocked()
			return fmt.Errorf("create map %s: %w", spec.Name, err)
		}
		m.maps[spec.Name] = bm
	}

	m.regs = &registerMap{m: m.maps[RegsMapName], size: hw.RegisterSpaceSize}
	m.loaded = true
	slog.Info("dataplane maps loaded", "pin_path", m.pinPath)
	return nil
}

// IsLoaded returns true if the maps are open.
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Registers returns the register file. It is nil before Load.
func (m *Manager) Registers() hw.RegisterSpace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.regs == nil {
		return nil
	}
	return m.regs
}

// Close releases the map file descriptors. Pinned maps survive.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	var err error
	for name, bm := range m.maps {
		if cerr := bm.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close %s: %w", name, cerr))
		}
		delete(m.maps, name)
	}
	if m.regs != nil {
		m.regs.closed.Store(true)
	}
	m.loaded = false
	return err
}

// Teardown unpins and closes every map.
func (m *Manager) Teardown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for name, bm := range m.maps {
		if !bm.IsPinned() {
			continue
		}
		if uerr := bm.Unpin(); uerr != nil {
			err = multierr.Append(err, fmt.Errorf("unpin %s: %w", name, uerr))
		}
	}
	err = multierr.Append(err, m.closeLocked())
	if err == nil {
		slog.Info("dataplane maps removed", "pin_path", m.pinPath)
	}
	return err
}

func (m *Manager) mapLocked(name string) (*ebpf.Map, error) {
	if !m.loaded {
		return nil, ErrNotLoaded
	}
	bm, ok := m.maps[name]
	if !ok {
		return nil, fmt.Errorf("%s map not found", name)
	}
	return bm, nil
}
