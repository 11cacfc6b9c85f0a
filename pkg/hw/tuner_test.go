package hw

import (
	"errors"
	"testing"
)

func newTestTuner(t *testing.T) (*Tuner, *Device) {
	t.Helper()
	dev, err := NewDevice(NewMem(RegisterSpaceSize))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	return NewTuner(dev), dev
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		level uint32
		want  ModerationBand
	}{
		{0, BandMinimal},
		{1, BandLow},
		{20, BandLow},
		{21, BandBalanced},
		{50, BandBalanced},
		{51, BandHigh},
		{80, BandHigh},
		{81, BandMaximum},
		{100, BandMaximum},
		{250, BandMaximum},
	}
	for _, tt := range tests {
		if got := BandFor(tt.level); got != tt.want {
			t.Errorf("BandFor(%d) = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestModerationMonotonic(t *testing.T) {
	prevITR := ModerationTimer(0)
	prevTh := ThresholdsFor(0)
	if prevITR != 0 {
		t.Fatalf("ModerationTimer(0) = %d, want 0", prevITR)
	}
	for level := uint32(1); level <= 100; level++ {
		itr := ModerationTimer(level)
		if itr < prevITR {
			t.Fatalf("ModerationTimer(%d) = %d < ModerationTimer(%d) = %d", level, itr, level-1, prevITR)
		}
		th := ThresholdsFor(level)
		if th.Prefetch < prevTh.Prefetch || th.Host < prevTh.Host || th.WriteBack < prevTh.WriteBack {
			t.Fatalf("thresholds decreased at level %d: %+v -> %+v", level, prevTh, th)
		}
		prevITR, prevTh = itr, th
	}
	if ModerationTimer(100) != 128 {
		t.Errorf("ModerationTimer(100) = %d, want 128", ModerationTimer(100))
	}
}

func TestTrafficPrioritizationAndBandwidthBits(t *testing.T) {
	tu, dev := newTestTuner(t)
	if err := tu.SetTrafficPrioritization(true); err != nil {
		t.Fatal(err)
	}
	if err := tu.SetBandwidthControl(true); err != nil {
		t.Fatal(err)
	}
	if got := dev.Read(RegTQAVCC); got != TqavccPriority|TqavccQoSEnable {
		t.Errorf("TQAVCC = %#x, want %#x", got, TqavccPriority|TqavccQoSEnable)
	}
	if dev.Read(RegTXCW)&CwQoSEnable == 0 || dev.Read(RegRXCW)&CwQoSEnable == 0 {
		t.Error("TXCW/RXCW QoS bit not set")
	}

	// Disabling bandwidth control keeps the priority bit.
	tu.SetBandwidthControl(false)
	if got := dev.Read(RegTQAVCC); got != TqavccPriority {
		t.Errorf("TQAVCC = %#x, want %#x", got, TqavccPriority)
	}
	tu.SetTrafficPrioritization(false)
	if dev.Read(RegTQAVCC) != 0 || dev.Read(RegTXCW) != 0 {
		t.Error("prioritization bits not cleared")
	}
}

func TestLatencyReduction(t *testing.T) {
	tu, dev := newTestTuner(t)
	tu.SetLatencyReduction(true)
	if dev.Read(RegCTRL)&CtrlITREnable != 0 {
		t.Error("ITR enable still set")
	}
	if dev.Read(RegITR) != 0 {
		t.Errorf("ITR = %d, want 0", dev.Read(RegITR))
	}
	if p := tu.ReadThresholds().Prefetch; p != 1 {
		t.Errorf("PTHRESH = %d, want 1", p)
	}

	tu.SetLatencyReduction(false)
	if dev.Read(RegCTRL)&CtrlITREnable == 0 || dev.Read(RegITR) != 128 {
		t.Errorf("CTRL %#x ITR %d after disable", dev.Read(RegCTRL), dev.Read(RegITR))
	}
	if p := tu.ReadThresholds().Prefetch; p != 8 {
		t.Errorf("PTHRESH = %d, want 8", p)
	}
}

func TestSmartPowerManagement(t *testing.T) {
	tu, dev := newTestTuner(t)
	dev.Write(RegCTRL, CtrlSLU)
	tu.SetSmartPowerManagement(true)
	if got := dev.Read(RegCTRL); got != CtrlSLU|CtrlEEEEnable|CtrlASPMEnable {
		t.Errorf("CTRL = %#x", got)
	}
	if dev.Read(RegEEER)&EeerTxLPIEnable == 0 {
		t.Error("EEER TX LPI not set")
	}
	tu.SetSmartPowerManagement(false)
	if got := dev.Read(RegCTRL); got != CtrlSLU {
		t.Errorf("CTRL = %#x, want only SLU", got)
	}
	if dev.Read(RegEEER) != 0 {
		t.Errorf("EEER = %#x", dev.Read(RegEEER))
	}
}

func TestOptimizeBuffers(t *testing.T) {
	tu, dev := newTestTuner(t)
	dev.Write(RegRCTL, RctlEN|RctlBAM)
	if err := tu.OptimizeBuffers(8192, 8192); err != nil {
		t.Fatal(err)
	}
	if got := dev.Read(RegRCTL); got != RctlEN|RctlBAM|RctlBSEX|2<<16 {
		t.Errorf("RCTL = %#x", got)
	}
	if p := tu.ReadThresholds().Prefetch; p != 2 {
		t.Errorf("PTHRESH = %d, want 2", p)
	}
	if err := tu.OptimizeBuffers(3000, 0); err == nil {
		t.Error("expected error for unsupported size")
	}
}

func TestOptimizeInterrupts(t *testing.T) {
	tu, dev := newTestTuner(t)
	tu.OptimizeInterrupts(80, false)
	if dev.Read(RegITR) != 96 || dev.Read(RegCTRL)&CtrlITREnable == 0 {
		t.Errorf("ITR %d CTRL %#x", dev.Read(RegITR), dev.Read(RegCTRL))
	}
	if th := tu.ReadThresholds(); th != (Thresholds{16, 8, 8}) {
		t.Errorf("thresholds = %+v", th)
	}

	tu.OptimizeInterrupts(80, true)
	if dev.Read(RegITR) != 0 || dev.Read(RegCTRL)&CtrlITREnable != 0 {
		t.Errorf("latency override: ITR %d CTRL %#x", dev.Read(RegITR), dev.Read(RegCTRL))
	}
	if th := tu.ReadThresholds(); th != (Thresholds{1, 1, 0}) {
		t.Errorf("thresholds = %+v", th)
	}
}

func TestProgramRings(t *testing.T) {
	tu, dev := newTestTuner(t)
	dev.Write(RegRDH, 17)
	tu.ProgramRings(512, 256)
	if dev.Read(RegRDLEN) != 512*16 || dev.Read(RegTDLEN) != 256*16 || dev.Read(RegRDH) != 0 {
		t.Errorf("RDLEN %d TDLEN %d RDH %d", dev.Read(RegRDLEN), dev.Read(RegTDLEN), dev.Read(RegRDH))
	}
}

func TestDeviceBounds(t *testing.T) {
	dev, _ := NewDevice(NewMem(0x100))
	dev.Write(0x100, 1)
	dev.Write(0x3, 1)
	if got := dev.Read(0x200); got != 0 {
		t.Errorf("out-of-range read = %d", got)
	}
	if dev.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", dev.Dropped())
	}
	dev.Write(0xFC, 7)
	if dev.Read(0xFC) != 7 {
		t.Error("last in-range register not writable")
	}
	if _, err := NewDevice(nil); !errors.Is(err, ErrNoRegisterSpace) {
		t.Errorf("NewDevice(nil) err = %v", err)
	}
}

type faultySpace struct {
	*Mem
	err error
}

func (f faultySpace) Fault() error { return f.err }

func TestApplierReportsFault(t *testing.T) {
	dev, _ := NewDevice(faultySpace{Mem: NewMem(RegisterSpaceSize), err: errors.New("map closed")})
	tu := NewTuner(dev)
	if err := tu.SetBandwidthControl(true); !errors.Is(err, ErrNoRegisterSpace) {
		t.Errorf("err = %v, want ErrNoRegisterSpace", err)
	}
}

func TestDump(t *testing.T) {
	_, dev := newTestTuner(t)
	dev.Write(RegITR, 64)
	dump := dev.Dump()
	if len(dump) != len(RegisterNames) {
		t.Fatalf("dump has %d entries", len(dump))
	}
	for i := 1; i < len(dump); i++ {
		if dump[i].Offset <= dump[i-1].Offset {
			t.Fatal("dump not sorted by offset")
		}
	}
	for _, r := range dump {
		if r.Name == "ITR" && r.Value != 64 {
			t.Errorf("ITR in dump = %d", r.Value)
		}
	}
}
