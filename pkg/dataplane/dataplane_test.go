package dataplane

import (
	"errors"
	"testing"

	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/hw"
)

// loadManager returns a Manager with private maps, skipping when the
// environment cannot create BPF maps (no CAP_BPF, no memlock).
func loadManager(t *testing.T) *Manager {
	t.Helper()
	m := New("")
	if err := m.Load(); err != nil {
		t.Skipf("BPF maps unavailable: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestNotLoaded(t *testing.T) {
	m := New("")
	if m.IsLoaded() {
		t.Fatal("new manager reports loaded")
	}
	if m.Registers() != nil {
		t.Error("Registers before Load should be nil")
	}
	if _, err := m.SyncPortTable(classify.DefaultPortTable()); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("SyncPortTable err = %v", err)
	}
	if _, _, err := m.LookupPort(80); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("LookupPort err = %v", err)
	}
}

func TestRegisterMapBacksTuner(t *testing.T) {
	m := loadManager(t)
	dev, err := hw.NewDevice(m.Registers())
	if err != nil {
		t.Fatal(err)
	}
	tuner := hw.NewTuner(dev)
	if err := tuner.SetLatencyReduction(true); err != nil {
		t.Fatalf("SetLatencyReduction: %v", err)
	}
	if got := dev.Read(hw.RegITR); got != 0 {
		t.Errorf("ITR = %#x, want 0", got)
	}
	dev.Write(hw.RegSTATUS, 0x1234)
	if got := m.Registers().ReadRegister(hw.RegSTATUS); got != 0x1234 {
		t.Errorf("map read = %#x", got)
	}
	if err := dev.Err(); err != nil {
		t.Errorf("Err = %v", err)
	}

	m.Close()
	if err := dev.Err(); !errors.Is(err, hw.ErrNoRegisterSpace) {
		t.Errorf("Err after close = %v", err)
	}
	if got := dev.Read(hw.RegSTATUS); got != 0xFFFFFFFF {
		t.Errorf("read after close = %#x", got)
	}
}

func TestSyncPortTable(t *testing.T) {
	m := loadManager(t)
	tbl := classify.NewPortTable(
		[]uint16{3074, 7777},
		[]uint16{3478, 7777},
		[]uint16{1935},
	)
	n, err := m.SyncPortTable(tbl)
	if err != nil {
		t.Fatalf("SyncPortTable: %v", err)
	}
	if n != 4 {
		t.Errorf("entries = %d, want 4", n)
	}
	for port, want := range map[uint16]classify.TrafficClass{
		3074: classify.ClassGame,
		7777: classify.ClassGame, // game wins over voice
		3478: classify.ClassVoice,
		1935: classify.ClassStreaming,
	} {
		got, ok, err := m.LookupPort(port)
		if err != nil || !ok || got != want {
			t.Errorf("LookupPort(%d) = %v, %v, %v; want %v", port, got, ok, err, want)
		}
	}

	smaller := classify.NewPortTable([]uint16{3074}, nil, nil)
	if _, err := m.SyncPortTable(smaller); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := m.LookupPort(1935); ok {
		t.Error("stale port survived resync")
	}
}
