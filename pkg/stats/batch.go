package stats

import "github.com/psaab/nicqos/pkg/classify"

// Batch accumulates counter deltas for one ring-service invocation.
// It is a plain value; keep it on the stack.
type Batch struct {
	dir          Direction
	packets      uint64
	bytes        uint64
	highPriority uint64
	lowLatency   uint64
	class        [classify.NumClasses]uint64
	priority     [classify.NumPriorities]uint64
}

// NewBatch returns an empty batch for direction dir.
func NewBatch(dir Direction) Batch {
	return Batch{dir: dir}
}

// Count adds one packet of the given length to the direction totals.
func (b *Batch) Count(length uint32) {
	b.packets++
	b.bytes += uint64(length)
}

// CountN adds n packets totalling bytes to the direction totals.
func (b *Batch) CountN(n, bytes uint64) {
	b.packets += n
	b.bytes += bytes
}

// Record counts a classified packet and returns its priority level.
// Priority counters are only kept for the transmit direction.
func (b *Batch) Record(c classify.TrafficClass) classify.PriorityLevel {
	p := classify.Assign(c)
	if c < classify.NumClasses {
		b.class[c]++
	}
	if b.dir == Transmit {
		b.priority[p]++
		if p.IsHigh() {
			b.highPriority++
		}
	}
	return p
}

// LowLatency counts a packet handled under latency reduction.
func (b *Batch) LowLatency() {
	b.lowLatency++
}

// Packets returns the number of packets counted so far.
func (b *Batch) Packets() uint64 {
	return b.packets
}

func (b *Batch) empty() bool {
	if b.packets != 0 || b.bytes != 0 || b.lowLatency != 0 {
		return false
	}
	for _, n := range b.class {
		if n != 0 {
			return false
		}
	}
	return true
}
