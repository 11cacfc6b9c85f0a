// Package engine runs the per-ring service loops that classify packets
// and account for them.
//
// A TxQueue or RxQueue must not be advanced from two goroutines at once;
// different queues may run concurrently with each other and with profile
// changes. Nothing here blocks, allocates per packet, or logs.
package engine

import (
	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/profile"
	"github.com/psaab/nicqos/pkg/ring"
	"github.com/psaab/nicqos/pkg/stats"
)

// FlagSource supplies the fast-path flags of the active profile.
type FlagSource interface {
	FastPath() profile.FastPath
}

// Classifier maps header fields to a traffic class.
type Classifier interface {
	ClassifyHeader(h classify.PacketHeader) classify.TrafficClass
}

// Dispatcher hands transmit fragments to the DMA engine.
type Dispatcher interface {
	DispatchFragment(pkt *ring.Packet, frag *ring.Fragment)
}

// DiscardDispatcher drops every fragment.
type DiscardDispatcher struct{}

func (DiscardDispatcher) DispatchFragment(*ring.Packet, *ring.Fragment) {}

// Engine holds what every queue shares.
type Engine struct {
	flags      FlagSource
	classifier Classifier
	stats      *stats.Stats
}

// New returns an Engine reading flags from flags, classifying with c and
// accounting into st.
func New(flags FlagSource, c Classifier, st *stats.Stats) *Engine {
	return &Engine{flags: flags, classifier: c, stats: st}
}

// classifyPacket parses the packet header from its first fragment if
// the producer did not supply it, and caches the result in the slot.
func (e *Engine) classifyPacket(hp *classify.HeaderParser, frags *ring.Ring[ring.Fragment], pkt *ring.Packet) classify.TrafficClass {
	if !pkt.Header.Parsed {
		if pkt.FragmentCount > 0 {
			pkt.Header = hp.Parse(frags.At(pkt.FragmentIndex).Data)
		} else {
			pkt.Header = classify.PacketHeader{Parsed: true}
		}
	}
	return e.classifier.ClassifyHeader(pkt.Header)
}
