// Package stats holds the adapter's performance counters and gauges.
//
// Counters only grow; they are cleared by Reset, which the adapter calls
// when the device is initialized. Ring-service loops accumulate into a
// Batch on the stack and Commit it once per service event, so a Snapshot
// never observes half of a service.
package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/psaab/nicqos/pkg/classify"
)

// Direction selects transmit or receive accounting.
type Direction uint8

const (
	Transmit Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Receive {
		return "rx"
	}
	return "tx"
}

// ParseDirection parses "tx" or "rx".
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "tx", "transmit":
		return Transmit, nil
	case "rx", "receive":
		return Receive, nil
	}
	return Transmit, fmt.Errorf("unknown direction %q", s)
}

// Gauge tracks the current, smoothed and peak value of a sampled quantity.
type Gauge struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
	Peak    float64 `json:"peak"`
	Samples uint64  `json:"samples"`
}

// ewmaWeight is the smoothing factor for Gauge.Average (1/8, as for TCP SRTT).
const ewmaWeight = 0.125

func (g *Gauge) observe(v float64) {
	g.Current = v
	if g.Samples == 0 {
		g.Average = v
	} else {
		g.Average += ewmaWeight * (v - g.Average)
	}
	if v > g.Peak {
		g.Peak = v
	}
	g.Samples++
}

// Snapshot is a point-in-time copy of all counters and gauges.
type Snapshot struct {
	TotalPacketsSent        uint64
	TotalPacketsReceived    uint64
	HighPriorityPacketsSent uint64
	// HighPriorityPacketsReceived stays 0: receive accounting is per
	// class only and never assigns a priority level.
	HighPriorityPacketsReceived uint64
	LowLatencyPacketsSent       uint64
	LowLatencyPacketsReceived   uint64
	BytesSent                   uint64
	BytesReceived               uint64

	// ClassPackets counts classified packets per traffic class, both
	// directions combined.
	ClassPackets [classify.NumClasses]uint64
	// PrioritySent counts transmitted packets per priority level. The
	// receive path does not derive priorities for accounting.
	PrioritySent [classify.NumPriorities]uint64

	LatencyMs     Gauge
	BandwidthKbps Gauge
}

// Stats is the adapter-owned statistics block.
type Stats struct {
	mu sync.Mutex
	s  Snapshot
}

// New returns a zeroed statistics block.
func New() *Stats {
	return &Stats{}
}

// Snapshot returns a copy of the current statistics.
func (st *Stats) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s
}

// Reset zeroes every counter and gauge.
func (st *Stats) Reset() {
	st.mu.Lock()
	st.s = Snapshot{}
	st.mu.Unlock()
}

// RecordPriority increments the per-class counter for c and, on the
// transmit path, the per-priority counters. It returns the assigned level.
func (st *Stats) RecordPriority(c classify.TrafficClass, dir Direction) classify.PriorityLevel {
	b := NewBatch(dir)
	p := b.Record(c)
	st.Commit(&b)
	return p
}

// ObserveLatency records a latency sample.
func (st *Stats) ObserveLatency(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	st.mu.Lock()
	st.s.LatencyMs.observe(ms)
	st.mu.Unlock()
}

// ObserveBandwidth records a throughput sample in kilobits per second.
func (st *Stats) ObserveBandwidth(kbps float64) {
	st.mu.Lock()
	st.s.BandwidthKbps.observe(kbps)
	st.mu.Unlock()
}

// ByteCounters returns the total bytes received and sent.
func (st *Stats) ByteCounters() (rx, tx uint64) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.BytesReceived, st.s.BytesSent
}

// Commit folds a batch into the totals under one short critical section.
func (st *Stats) Commit(b *Batch) {
	if b.empty() {
		return
	}
	st.mu.Lock()
	s := &st.s
	for i, n := range b.class {
		s.ClassPackets[i] += n
	}
	if b.dir == Transmit {
		s.TotalPacketsSent += b.packets
		s.BytesSent += b.bytes
		s.HighPriorityPacketsSent += b.highPriority
		s.LowLatencyPacketsSent += b.lowLatency
		for i, n := range b.priority {
			s.PrioritySent[i] += n
		}
	} else {
		s.TotalPacketsReceived += b.packets
		s.BytesReceived += b.bytes
		s.LowLatencyPacketsReceived += b.lowLatency
	}
	st.mu.Unlock()
}
