package engine

import (
	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/ring"
	"github.com/psaab/nicqos/pkg/stats"
)

// RxQueue services one receive queue.
type RxQueue struct {
	eng    *Engine
	q      *ring.Queue
	parser *classify.HeaderParser
}

// NewRxQueue binds a receive queue.
func (e *Engine) NewRxQueue(q *ring.Queue) *RxQueue {
	return &RxQueue{eng: e, q: q, parser: classify.NewHeaderParser()}
}

// Queue returns the rings being serviced.
func (r *RxQueue) Queue() *ring.Queue { return r.q }

// Advance accounts for the packets in [BeginIndex, EndIndex) and then
// publishes newly completed slots by moving EndIndex to NextIndex on both
// rings. When either ring has no completed slots beyond EndIndex it
// returns without touching the rings or the statistics. It returns the
// number of packets scanned.
func (r *RxQueue) Advance() int {
	pr, fr := r.q.Packets, r.q.Fragments
	if pr.RangeCount(pr.EndIndex, pr.NextIndex) == 0 || fr.RangeCount(fr.EndIndex, fr.NextIndex) == 0 {
		return 0
	}

	n := pr.RangeCount(pr.BeginIndex, pr.EndIndex)
	b := stats.NewBatch(stats.Receive)
	idx := pr.BeginIndex
	for i := uint32(0); i < n; i++ {
		pkt := pr.At(idx)
		b.Count(pkt.Length)
		if fp := r.eng.flags.FastPath(); fp.TrafficPrioritization {
			c := r.eng.classifyPacket(r.parser, fr, pkt)
			b.Record(c)
			if fp.LatencyReduction && classify.Assign(c).IsHigh() {
				b.LowLatency()
			}
		}
		idx = pr.Increment(idx)
	}

	pr.EndIndex = pr.NextIndex
	fr.EndIndex = fr.NextIndex

	r.eng.stats.Commit(&b)
	return int(n)
}
