package engine

import (
	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/ring"
	"github.com/psaab/nicqos/pkg/stats"
)

// TxQueue services one transmit queue.
type TxQueue struct {
	eng      *Engine
	q        *ring.Queue
	parser   *classify.HeaderParser
	dispatch Dispatcher
}

// NewTxQueue binds a transmit queue. A nil dispatcher discards fragments.
func (e *Engine) NewTxQueue(q *ring.Queue, d Dispatcher) *TxQueue {
	if d == nil {
		d = DiscardDispatcher{}
	}
	return &TxQueue{eng: e, q: q, parser: classify.NewHeaderParser(), dispatch: d}
}

// Queue returns the rings being serviced.
func (t *TxQueue) Queue() *ring.Queue { return t.q }

// Advance processes every packet in [BeginIndex, EndIndex) in ring order,
// dispatching its fragments and moving BeginIndex past it. EndIndex is
// sampled once, so the loop runs exactly as many iterations as were
// pending on entry. It returns the number of packets processed.
func (t *TxQueue) Advance() int {
	pr, fr := t.q.Packets, t.q.Fragments
	n := pr.RangeCount(pr.BeginIndex, pr.EndIndex)
	if n == 0 {
		return 0
	}

	b := stats.NewBatch(stats.Transmit)
	fragEnd := fr.BeginIndex
	for i := uint32(0); i < n; i++ {
		pkt := pr.At(pr.BeginIndex)
		b.Count(pkt.Length)

		if fp := t.eng.flags.FastPath(); fp.TrafficPrioritization {
			c := t.eng.classifyPacket(t.parser, fr, pkt)
			p := b.Record(c)
			// Accounting only: latency treatment comes from the
			// moderation and threshold registers, not from reordering.
			if fp.LatencyReduction && p.IsHigh() {
				b.LowLatency()
			}
		}

		fi := pkt.FragmentIndex
		for j := uint16(0); j < pkt.FragmentCount; j++ {
			t.dispatch.DispatchFragment(pkt, fr.At(fi))
			fi = fr.Increment(fi)
		}
		fragEnd = fi
		pr.BeginIndex = pr.Increment(pr.BeginIndex)
	}
	fr.BeginIndex = fragEnd

	t.eng.stats.Commit(&b)
	return int(n)
}
