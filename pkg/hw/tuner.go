package hw

import (
	"fmt"
	"log/slog"
)

// ModerationBand is the coarse coalescing tier for a 0-100 moderation level.
type ModerationBand uint8

const (
	BandMinimal  ModerationBand = iota // 0: coalescing off
	BandLow                            // 1-20
	BandBalanced                       // 21-50
	BandHigh                           // 51-80
	BandMaximum                        // 81-100
)

var bandNames = [...]string{"minimal", "low", "balanced", "high", "maximum"}

func (b ModerationBand) String() string {
	if int(b) < len(bandNames) {
		return bandNames[b]
	}
	return fmt.Sprintf("band(%d)", uint8(b))
}

// BandFor maps a moderation level to its band. Levels above 100 are
// treated as 100.
func BandFor(level uint32) ModerationBand {
	switch {
	case level == 0:
		return BandMinimal
	case level <= 20:
		return BandLow
	case level <= 50:
		return BandBalanced
	case level <= 80:
		return BandHigh
	default:
		return BandMaximum
	}
}

// itrByBand is the ITR interval written per band, in 256ns units.
var itrByBand = [...]uint32{0, 32, 64, 96, 128}

// ModerationTimer returns the ITR interval for a moderation level.
// It is non-decreasing in level.
func ModerationTimer(level uint32) uint32 {
	return itrByBand[BandFor(level)]
}

// Thresholds are descriptor ring DMA thresholds.
type Thresholds struct {
	Prefetch  uint32 `json:"prefetch"`
	Host      uint32 `json:"host"`
	WriteBack uint32 `json:"write_back"`
}

var thresholdsByBand = [...]Thresholds{
	{Prefetch: 1, Host: 1, WriteBack: 0},
	{Prefetch: 4, Host: 4, WriteBack: 1},
	{Prefetch: 8, Host: 4, WriteBack: 4},
	{Prefetch: 16, Host: 8, WriteBack: 8},
	{Prefetch: 32, Host: 16, WriteBack: 16},
}

// ThresholdsFor returns the DMA thresholds for a moderation level.
func ThresholdsFor(level uint32) Thresholds {
	return thresholdsByBand[BandFor(level)]
}

func (t Thresholds) encode() uint32 {
	return (t.Prefetch&dctlThreshMask)<<dctlPThreshShift |
		(t.Host&dctlThreshMask)<<dctlHThreshShift |
		(t.WriteBack&dctlThreshMask)<<dctlWThreshShift
}

const dctlThreshFields = dctlThreshMask<<dctlPThreshShift |
	dctlThreshMask<<dctlHThreshShift |
	dctlThreshMask<<dctlWThreshShift

// Prefetch thresholds used by the feature appliers.
const (
	lowLatencyPThresh = 1
	defaultPThresh    = 8
	bufferPThresh     = 2
	defaultITR        = 128
)

// rctlBufferSize encodes a receive buffer size into RCTL BSIZE/BSEX.
func rctlBufferSize(size uint32) (uint32, error) {
	switch size {
	case 2048:
		return 0, nil
	case 4096:
		return RctlBSEX | 3<<16, nil
	case 8192:
		return RctlBSEX | 2<<16, nil
	case 16384:
		return RctlBSEX | 1<<16, nil
	}
	return 0, fmt.Errorf("unsupported receive buffer size %d", size)
}

// Tuner translates profile settings into register writes. Callers
// serialize access; Tuner itself holds no lock.
type Tuner struct {
	dev *Device
}

// NewTuner returns a Tuner writing through dev.
func NewTuner(dev *Device) *Tuner {
	return &Tuner{dev: dev}
}

// Device returns the underlying register device.
func (t *Tuner) Device() *Device { return t.dev }

// SetTrafficPrioritization toggles the QoS bit in TXCW/RXCW and the
// priority bit in TQAVCC.
func (t *Tuner) SetTrafficPrioritization(enable bool) error {
	t.dev.SetBits(RegTXCW, CwQoSEnable, enable)
	t.dev.SetBits(RegRXCW, CwQoSEnable, enable)
	t.dev.SetBits(RegTQAVCC, TqavccPriority, enable)
	slog.Debug("traffic prioritization applied", "enable", enable)
	return t.dev.Err()
}

// SetLatencyReduction disables interrupt throttling and drops the
// prefetch threshold to 1 when enabled, and restores the defaults
// otherwise.
func (t *Tuner) SetLatencyReduction(enable bool) error {
	pthresh, itr := uint32(defaultPThresh), uint32(defaultITR)
	if enable {
		pthresh, itr = lowLatencyPThresh, 0
	}
	t.dev.SetBits(RegCTRL, CtrlITREnable, !enable)
	t.dev.Modify(RegRXDCTL, dctlThreshMask<<dctlPThreshShift, pthresh<<dctlPThreshShift)
	t.dev.Modify(RegTXDCTL, dctlThreshMask<<dctlPThreshShift, pthresh<<dctlPThreshShift)
	t.dev.Write(RegITR, itr)
	slog.Debug("latency reduction applied", "enable", enable, "itr", itr)
	return t.dev.Err()
}

// SetBandwidthControl toggles the TQAVCC QoS enable bit.
func (t *Tuner) SetBandwidthControl(enable bool) error {
	t.dev.SetBits(RegTQAVCC, TqavccQoSEnable, enable)
	slog.Debug("bandwidth control applied", "enable", enable)
	return t.dev.Err()
}

// SetSmartPowerManagement toggles EEE and ASPM in CTRL together with the
// EEER low power idle bits.
func (t *Tuner) SetSmartPowerManagement(enable bool) error {
	t.dev.SetBits(RegCTRL, CtrlEEEEnable|CtrlASPMEnable, enable)
	t.dev.SetBits(RegEEER, eeerLPIMask, enable)
	slog.Debug("smart power management applied", "enable", enable)
	return t.dev.Err()
}

// OptimizeBuffers programs the receive buffer size and sets the prefetch
// threshold on each ring whose size is non-zero.
func (t *Tuner) OptimizeBuffers(rx, tx uint32) error {
	if rx != 0 {
		bits, err := rctlBufferSize(rx)
		if err != nil {
			return err
		}
		t.dev.Modify(RegRCTL, RctlBSIZEMask|RctlBSEX, bits)
		t.dev.Modify(RegRXDCTL, dctlThreshMask<<dctlPThreshShift, bufferPThresh<<dctlPThreshShift)
	}
	if tx != 0 {
		t.dev.Modify(RegTXDCTL, dctlThreshMask<<dctlPThreshShift, bufferPThresh<<dctlPThreshShift)
	}
	slog.Debug("buffers optimized", "rx", rx, "tx", tx)
	return t.dev.Err()
}

// OptimizeInterrupts programs interrupt throttling and DMA thresholds for
// a moderation level. Latency reduction overrides the level: throttling is
// disabled and the minimal-band thresholds are used.
func (t *Tuner) OptimizeInterrupts(level uint32, latencyReduction bool) error {
	if latencyReduction {
		level = 0
	}
	itr := ModerationTimer(level)
	t.dev.SetBits(RegCTRL, CtrlITREnable, itr != 0)
	t.dev.Write(RegITR, itr)
	th := ThresholdsFor(level).encode()
	t.dev.Modify(RegRXDCTL, dctlThreshFields, th)
	t.dev.Modify(RegTXDCTL, dctlThreshFields, th)
	slog.Debug("interrupts optimized", "level", level, "band", BandFor(level), "itr", itr)
	return t.dev.Err()
}

// ProgramRings writes descriptor ring lengths and zeroes the head and
// tail pointers. Only valid while the rings are quiesced.
func (t *Tuner) ProgramRings(rxDescriptors, txDescriptors uint32) error {
	t.dev.Write(RegRDLEN, rxDescriptors*descriptorBytes)
	t.dev.Write(RegRDH, 0)
	t.dev.Write(RegRDT, 0)
	t.dev.Write(RegTDLEN, txDescriptors*descriptorBytes)
	t.dev.Write(RegTDH, 0)
	t.dev.Write(RegTDT, 0)
	return t.dev.Err()
}

// ReadThresholds decodes the DMA thresholds currently in RXDCTL.
func (t *Tuner) ReadThresholds() Thresholds {
	v := t.dev.Read(RegRXDCTL)
	return Thresholds{
		Prefetch:  v >> dctlPThreshShift & dctlThreshMask,
		Host:      v >> dctlHThreshShift & dctlThreshMask,
		WriteBack: v >> dctlWThreshShift & dctlThreshMask,
	}
}
