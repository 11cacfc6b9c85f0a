package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/psaab/nicqos/pkg/classify"
)

func TestRecordPriorityTransmit(t *testing.T) {
	st := New()
	if p := st.RecordPriority(classify.ClassGame, Transmit); p != classify.PriorityHighest {
		t.Fatalf("game priority = %s", p)
	}
	st.RecordPriority(classify.ClassStreaming, Transmit)
	st.RecordPriority(classify.ClassVoice, Transmit)

	s := st.Snapshot()
	if s.HighPriorityPacketsSent != 2 {
		t.Errorf("HighPriorityPacketsSent = %d, want 2", s.HighPriorityPacketsSent)
	}
	if s.PrioritySent[classify.PriorityMedium] != 1 {
		t.Errorf("PrioritySent[medium] = %d, want 1", s.PrioritySent[classify.PriorityMedium])
	}
	if s.ClassPackets[classify.ClassGame] != 1 || s.ClassPackets[classify.ClassVoice] != 1 {
		t.Errorf("ClassPackets = %v", s.ClassPackets)
	}
	if s.TotalPacketsSent != 0 {
		t.Errorf("RecordPriority must not touch totals, got %d", s.TotalPacketsSent)
	}
}

func TestRecordPriorityReceiveIsClassOnly(t *testing.T) {
	st := New()
	st.RecordPriority(classify.ClassGame, Receive)
	s := st.Snapshot()
	if s.ClassPackets[classify.ClassGame] != 1 {
		t.Errorf("ClassPackets[game] = %d, want 1", s.ClassPackets[classify.ClassGame])
	}
	if s.HighPriorityPacketsReceived != 0 || s.PrioritySent != [classify.NumPriorities]uint64{} {
		t.Errorf("receive path recorded priority counters: %+v", s)
	}
}

func TestBatchCommit(t *testing.T) {
	st := New()
	b := NewBatch(Transmit)
	b.Count(100)
	b.Record(classify.ClassGame)
	b.LowLatency()
	b.Count(1400)
	b.Record(classify.ClassBackground)
	if b.Packets() != 2 {
		t.Fatalf("Packets = %d", b.Packets())
	}
	st.Commit(&b)

	s := st.Snapshot()
	if s.TotalPacketsSent != 2 || s.BytesSent != 1500 {
		t.Errorf("totals = %d pkts %d bytes", s.TotalPacketsSent, s.BytesSent)
	}
	if s.LowLatencyPacketsSent != 1 || s.HighPriorityPacketsSent != 1 {
		t.Errorf("low latency %d high %d", s.LowLatencyPacketsSent, s.HighPriorityPacketsSent)
	}
	if s.PrioritySent[classify.PriorityLow] != 1 {
		t.Errorf("PrioritySent[low] = %d", s.PrioritySent[classify.PriorityLow])
	}

	rx := NewBatch(Receive)
	rx.CountN(3, 300)
	st.Commit(&rx)
	if got, want := st.Snapshot().TotalPacketsReceived, uint64(3); got != want {
		t.Errorf("TotalPacketsReceived = %d, want %d", got, want)
	}
	rxBytes, txBytes := st.ByteCounters()
	if rxBytes != 300 || txBytes != 1500 {
		t.Errorf("ByteCounters = %d/%d", rxBytes, txBytes)
	}
}

func TestGauges(t *testing.T) {
	st := New()
	st.ObserveLatency(8 * time.Millisecond)
	st.ObserveLatency(16 * time.Millisecond)
	st.ObserveLatency(4 * time.Millisecond)

	g := st.Snapshot().LatencyMs
	if g.Current != 4 || g.Peak != 16 || g.Samples != 3 {
		t.Errorf("latency gauge = %+v", g)
	}
	// 8 -> 8 + (16-8)/8 = 9 -> 9 + (4-9)/8 = 8.375
	if g.Average != 8.375 {
		t.Errorf("average = %v, want 8.375", g.Average)
	}

	st.ObserveBandwidth(1000)
	if bw := st.Snapshot().BandwidthKbps; bw.Current != 1000 || bw.Average != 1000 {
		t.Errorf("bandwidth gauge = %+v", bw)
	}
}

func TestReset(t *testing.T) {
	st := New()
	st.RecordPriority(classify.ClassVoice, Transmit)
	st.ObserveBandwidth(5)
	st.Reset()
	if s := st.Snapshot(); s != (Snapshot{}) {
		t.Errorf("after Reset: %+v", s)
	}
}

func TestConcurrentCommitAndSnapshot(t *testing.T) {
	st := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				b := NewBatch(Transmit)
				b.Count(10)
				b.Record(classify.ClassGame)
				st.Commit(&b)
			}
		}()
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			s := st.Snapshot()
			if s.TotalPacketsSent != s.ClassPackets[classify.ClassGame] {
				t.Errorf("snapshot torn: total %d class %d", s.TotalPacketsSent, s.ClassPackets[classify.ClassGame])
				return
			}
		}
	}()
	wg.Wait()
	<-done
	if got := st.Snapshot().TotalPacketsSent; got != 4000 {
		t.Errorf("TotalPacketsSent = %d, want 4000", got)
	}
}

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{"tx": Transmit, "receive": Receive, "rx": Receive} {
		if got, err := ParseDirection(in); err != nil || got != want {
			t.Errorf("ParseDirection(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Error("expected error")
	}
}
