// Package ring models the packet and fragment descriptor rings shared
// between the driver and the DMA engine.
//
// Cursor positions follow the usual three-index convention:
// [BeginIndex, EndIndex) holds slots the engine still has to process and
// NextIndex marks how far the producer has written. Indices always lie in
// [0, Size) and wrap with a mask, so ring sizes must be powers of two.
package ring

import (
	"errors"
	"fmt"

	"github.com/psaab/nicqos/pkg/classify"
)

// ErrRingSize is returned for ring sizes that are zero or not a power of two.
var ErrRingSize = errors.New("ring size must be a non-zero power of two")

// Ring is a fixed-size circular array of slots with cursor indices.
type Ring[T any] struct {
	slots []T
	mask  uint32

	BeginIndex uint32
	NextIndex  uint32
	EndIndex   uint32
}

// New allocates a ring of the given size.
func New[T any](size uint32) (*Ring[T], error) {
	if size == 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrRingSize, size)
	}
	return &Ring[T]{slots: make([]T, size), mask: size - 1}, nil
}

// Size returns the number of slots.
func (r *Ring[T]) Size() uint32 { return r.mask + 1 }

// Increment returns the index following i.
func (r *Ring[T]) Increment(i uint32) uint32 { return (i + 1) & r.mask }

// Add returns the index n slots after i.
func (r *Ring[T]) Add(i, n uint32) uint32 { return (i + n) & r.mask }

// RangeCount returns the number of slots in [start, end), modulo ring size.
func (r *Ring[T]) RangeCount(start, end uint32) uint32 { return (end - start) & r.mask }

// At returns a pointer to slot i.
func (r *Ring[T]) At(i uint32) *T { return &r.slots[i&r.mask] }

// Pending returns the number of slots between BeginIndex and EndIndex.
func (r *Ring[T]) Pending() uint32 { return r.RangeCount(r.BeginIndex, r.EndIndex) }

// Packet is one packet descriptor. Its data lives in FragmentCount
// consecutive slots of the fragment ring starting at FragmentIndex.
type Packet struct {
	FragmentIndex uint32
	FragmentCount uint16
	Length        uint32
	// Header is filled by the producer when it already knows the ports;
	// otherwise the engine parses it from the first fragment.
	Header classify.PacketHeader
}

// Fragment is one buffer of packet data.
type Fragment struct {
	Data []byte
}

// Queue pairs a packet ring with its fragment ring.
type Queue struct {
	Packets   *Ring[Packet]
	Fragments *Ring[Fragment]
}

// NewQueue allocates a queue with packetSlots packet descriptors and
// fragmentSlots fragment descriptors.
func NewQueue(packetSlots, fragmentSlots uint32) (*Queue, error) {
	pr, err := New[Packet](packetSlots)
	if err != nil {
		return nil, fmt.Errorf("packet ring: %w", err)
	}
	fr, err := New[Fragment](fragmentSlots)
	if err != nil {
		return nil, fmt.Errorf("fragment ring: %w", err)
	}
	return &Queue{Packets: pr, Fragments: fr}, nil
}

// Post writes a packet and its fragments at the producer cursors and
// advances NextIndex on both rings. It reports false when either ring
// lacks room. Post is a producer-side helper; the engine never calls it.
func (q *Queue) Post(frags ...[]byte) bool {
	pr, fr := q.Packets, q.Fragments
	if len(frags) == 0 || len(frags) > 0xffff {
		return false
	}
	// One slot stays empty so a full ring is distinguishable from an empty one.
	if pr.RangeCount(pr.BeginIndex, pr.NextIndex) >= pr.Size()-1 {
		return false
	}
	if fr.RangeCount(fr.BeginIndex, fr.NextIndex)+uint32(len(frags)) > fr.Size()-1 {
		return false
	}
	pkt := pr.At(pr.NextIndex)
	*pkt = Packet{FragmentIndex: fr.NextIndex, FragmentCount: uint16(len(frags))}
	for _, f := range frags {
		fr.At(fr.NextIndex).Data = f
		fr.NextIndex = fr.Increment(fr.NextIndex)
		pkt.Length += uint32(len(f))
	}
	pr.NextIndex = pr.Increment(pr.NextIndex)
	return true
}

// Release returns n packets starting at BeginIndex, together with their
// fragments, to the producer. It is the consumer-side counterpart of Post.
func (q *Queue) Release(n uint32) {
	pr, fr := q.Packets, q.Fragments
	if avail := pr.Pending(); n > avail {
		n = avail
	}
	for i := uint32(0); i < n; i++ {
		pkt := pr.At(pr.BeginIndex)
		fr.BeginIndex = fr.Add(pkt.FragmentIndex, uint32(pkt.FragmentCount))
		pr.BeginIndex = pr.Increment(pr.BeginIndex)
	}
}

// Publish moves EndIndex up to NextIndex on both rings, handing every
// posted packet to the engine.
func (q *Queue) Publish() {
	q.Packets.EndIndex = q.Packets.NextIndex
	q.Fragments.EndIndex = q.Fragments.NextIndex
}
