// Package hw pushes QoS policy into the NIC's register space.
package hw

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
)

// ErrNoRegisterSpace means the register space is missing or no longer usable.
var ErrNoRegisterSpace = errors.New("register space unavailable")

// RegisterSpace is a 32-bit register file addressed by byte offset.
// Implementations need not check bounds; Device does.
type RegisterSpace interface {
	ReadRegister(off uint32) uint32
	WriteRegister(off, val uint32)
	// Size returns the register space length in bytes.
	Size() uint32
}

// Faulter is implemented by register spaces that can lose the device,
// for example when a backing map is closed.
type Faulter interface {
	Fault() error
}

// Mem is an in-memory register file.
type Mem struct {
	regs []atomic.Uint32
}

// NewMem returns a zeroed register file of size bytes.
func NewMem(size uint32) *Mem {
	return &Mem{regs: make([]atomic.Uint32, size/4)}
}

func (m *Mem) ReadRegister(off uint32) uint32 {
	if i := off / 4; int(i) < len(m.regs) {
		return m.regs[i].Load()
	}
	return 0
}

func (m *Mem) WriteRegister(off, val uint32) {
	if i := off / 4; int(i) < len(m.regs) {
		m.regs[i].Store(val)
	}
}

func (m *Mem) Size() uint32 { return uint32(len(m.regs)) * 4 }

// Device wraps a RegisterSpace with bounds checking and read-modify-write
// helpers. Bad offsets are logged and ignored: reads return 0 and writes
// are dropped.
type Device struct {
	space   RegisterSpace
	dropped atomic.Uint64
}

// NewDevice returns a Device over space.
func NewDevice(space RegisterSpace) (*Device, error) {
	if space == nil || space.Size() == 0 {
		return nil, ErrNoRegisterSpace
	}
	return &Device{space: space}, nil
}

func (d *Device) valid(off uint32) bool {
	return off%4 == 0 && off < d.space.Size() && d.space.Size()-off >= 4
}

// Read returns the register at off.
func (d *Device) Read(off uint32) uint32 {
	if !d.valid(off) {
		d.dropped.Add(1)
		slog.Error("register read out of range", "offset", fmt.Sprintf("%#x", off))
		return 0
	}
	v := d.space.ReadRegister(off)
	if v == 0xFFFFFFFF {
		slog.Error("hardware not responding", "offset", fmt.Sprintf("%#x", off))
	}
	return v
}

// Write stores val at off.
func (d *Device) Write(off, val uint32) {
	if !d.valid(off) {
		d.dropped.Add(1)
		slog.Error("register write out of range", "offset", fmt.Sprintf("%#x", off))
		return
	}
	d.space.WriteRegister(off, val)
}

// Or sets bits in the register at off and returns the new value.
func (d *Device) Or(off, bits uint32) uint32 {
	v := d.Read(off) | bits
	d.Write(off, v)
	return v
}

// AndNot clears bits in the register at off and returns the new value.
func (d *Device) AndNot(off, bits uint32) uint32 {
	v := d.Read(off) &^ bits
	d.Write(off, v)
	return v
}

// Modify replaces the bits under mask with val.
func (d *Device) Modify(off, mask, val uint32) uint32 {
	v := d.Read(off)&^mask | val&mask
	d.Write(off, v)
	return v
}

// SetBits sets or clears bits depending on on.
func (d *Device) SetBits(off, bits uint32, on bool) uint32 {
	if on {
		return d.Or(off, bits)
	}
	return d.AndNot(off, bits)
}

// Dropped returns how many out-of-range accesses were ignored.
func (d *Device) Dropped() uint64 {
	return d.dropped.Load()
}

// Err reports a fatal condition of the underlying space.
func (d *Device) Err() error {
	if f, ok := d.space.(Faulter); ok {
		if err := f.Fault(); err != nil {
			return fmt.Errorf("%w: %v", ErrNoRegisterSpace, err)
		}
	}
	return nil
}

// RegisterValue is one named register in a dump.
type RegisterValue struct {
	Name   string `json:"name"`
	Offset uint32 `json:"offset"`
	Value  uint32 `json:"value"`
}

// Dump reads every register in RegisterNames, ordered by offset.
func (d *Device) Dump() []RegisterValue {
	out := make([]RegisterValue, 0, len(RegisterNames))
	for name, off := range RegisterNames {
		out = append(out, RegisterValue{Name: name, Offset: off, Value: d.Read(off)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}
