package dataplane

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cilium/ebpf"

	"github.com/psaab/nicqos/pkg/classify"
)

// registerMap serves hw.RegisterSpace from the regs array map, one
// 32-bit register per element.
type registerMap struct {
	m      *ebpf.Map
	size   uint32
	closed atomic.Bool

	mu    sync.Mutex
	fault error
}

func (r *registerMap) ReadRegister(off uint32) uint32 {
	var v uint32
	if r.closed.Load() {
		return 0xFFFFFFFF
	}
	if err := r.m.Lookup(off/4, &v); err != nil {
		r.setFault(fmt.Errorf("lookup %#x: %w", off, err))
		return 0xFFFFFFFF
	}
	return v
}

func (r *registerMap) WriteRegister(off, val uint32) {
	if r.closed.Load() {
		return
	}
	if err := r.m.Update(off/4, val, ebpf.UpdateExist); err != nil {
		r.setFault(fmt.Errorf("update %#x: %w", off, err))
	}
}

func (r *registerMap) Size() uint32 { return r.size }

// Fault reports the first failed map access, or that the map was closed.
func (r *registerMap) Fault() error {
	if r.closed.Load() {
		return errors.New("regs map closed")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fault
}

func (r *registerMap) setFault(err error) {
	r.mu.Lock()
	if r.fault == nil {
		r.fault = err
	}
	r.mu.Unlock()
}

// SyncPortTable makes the ports map hold exactly the classified ports of
// t. Each port maps to the class it wins on its own, so precedence is
// resolved here rather than in the BPF program. It returns the number of
// entries written.
func (m *Manager) SyncPortTable(t *classify.PortTable) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pm, err := m.mapLocked(PortsMapName)
	if err != nil {
		return 0, err
	}

	want := make(map[uint16]uint8)
	for _, c := range classify.Classes() {
		for _, p := range t.Ports(c) {
			want[p] = uint8(t.Classify(p, p))
		}
	}

	var (
		key   uint16
		val   uint8
		stale []uint16
	)
	iter := pm.Iterate()
	for iter.Next(&key, &val) {
		if _, ok := want[key]; !ok {
			stale = append(stale, key)
		}
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("iterate %s: %w", PortsMapName, err)
	}
	for _, k := range stale {
		if err := pm.Delete(k); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
			return 0, fmt.Errorf("delete port %d: %w", k, err)
		}
	}

	for p, c := range want {
		if err := pm.Update(p, c, ebpf.UpdateAny); err != nil {
			return 0, fmt.Errorf("update port %d: %w", p, err)
		}
	}
	return len(want), nil
}

// LookupPort returns the class published for port.
func (m *Manager) LookupPort(port uint16) (classify.TrafficClass, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pm, err := m.mapLocked(PortsMapName)
	if err != nil {
		return classify.ClassBackground, false, err
	}
	var v uint8
	if err := pm.Lookup(port, &v); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return classify.ClassBackground, false, nil
		}
		return classify.ClassBackground, false, err
	}
	return classify.TrafficClass(v), true, nil
}
