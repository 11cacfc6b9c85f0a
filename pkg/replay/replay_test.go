package replay

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/psaab/nicqos/pkg/adapter"
	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/hw"
	"github.com/psaab/nicqos/pkg/profile"
	"github.com/psaab/nicqos/pkg/stats"
)

func udpFrame(t *testing.T, src, dst uint16) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.IP{192, 168, 1, 10}, DstIP: net.IP{192, 168, 1, 1}}
	udp := &layers.UDP{SrcPort: layers.UDPPort(src), DstPort: layers.UDPPort(dst)}
	udp.SetNetworkLayerForChecksum(ip)
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("x"))); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

// testFrames is three game frames, one voice, one streaming and one
// background frame.
func testFrames(t *testing.T) [][]byte {
	return [][]byte{
		udpFrame(t, 50000+1, 3074),
		udpFrame(t, 3074, 40000),
		udpFrame(t, 40001, 64738),
		udpFrame(t, 1935, 40002),
		udpFrame(t, 40003, 40004),
		udpFrame(t, 40005, 3074),
	}
}

func writePcap(t *testing.T, frames [][]byte, link layers.LinkType) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, link); err != nil {
		t.Fatal(err)
	}
	ts := time.Unix(1700000000, 0)
	for i, f := range frames {
		ci := gopacket.CaptureInfo{Timestamp: ts.Add(time.Duration(i) * time.Millisecond), CaptureLength: len(f), Length: len(f)}
		if err := w.WritePacket(ci, f); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func newAdapter(t *testing.T) *adapter.Adapter {
	t.Helper()
	a, err := adapter.New(adapter.Options{Name: "replay0", Registers: hw.NewMem(hw.RegisterSpaceSize)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Init(profile.Competitive()); err != nil {
		t.Fatal(err)
	}
	return a
}

func TestReplayTransmit(t *testing.T) {
	frames := testFrames(t)
	a := newAdapter(t)
	res, err := Reader(context.Background(), bytes.NewReader(writePcap(t, frames, layers.LinkTypeEthernet)), a,
		Options{Direction: stats.Transmit, Batch: 2})
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	if res.Frames != 6 || res.Posted != 6 || res.Serviced != 6 || res.Dropped != 0 {
		t.Errorf("result = %+v", res)
	}

	s := a.PerformanceStats()
	if s.TotalPacketsSent != 6 {
		t.Errorf("TotalPacketsSent = %d", s.TotalPacketsSent)
	}
	if s.BytesSent != uint64(6*len(frames[0])) {
		t.Errorf("BytesSent = %d", s.BytesSent)
	}
	want := [classify.NumClasses]uint64{
		classify.ClassBackground: 1,
		classify.ClassGame:       3,
		classify.ClassVoice:      1,
		classify.ClassStreaming:  1,
	}
	if s.ClassPackets != want {
		t.Errorf("ClassPackets = %v, want %v", s.ClassPackets, want)
	}
	if s.HighPriorityPacketsSent != 4 {
		t.Errorf("HighPriorityPacketsSent = %d, want 4", s.HighPriorityPacketsSent)
	}
}

func TestReplayReceiveLagsOneService(t *testing.T) {
	a := newAdapter(t)
	res, err := Reader(context.Background(), bytes.NewReader(writePcap(t, testFrames(t), layers.LinkTypeEthernet)), a,
		Options{Direction: stats.Receive, Batch: 2})
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	// Three services: the first only publishes, the last batch is
	// published but not yet accounted.
	if res.Posted != 6 || res.Serviced != 4 {
		t.Errorf("result = %+v", res)
	}
	s := a.PerformanceStats()
	if s.TotalPacketsReceived != 4 || s.TotalPacketsSent != 0 {
		t.Errorf("stats = %+v", s)
	}
	if s.HighPriorityPacketsReceived != 0 {
		t.Error("receive path must not count high-priority packets")
	}
	if got := a.RxQueue().Packets.Pending(); got != 2 {
		t.Errorf("published window = %d, want 2", got)
	}
}

func TestReplayFragments(t *testing.T) {
	frames := testFrames(t)
	a := newAdapter(t)
	// 42 bytes keeps the Ethernet, IPv4 and UDP headers in the first fragment.
	res, err := Reader(context.Background(), bytes.NewReader(writePcap(t, frames, layers.LinkTypeEthernet)), a,
		Options{Direction: stats.Transmit, FragmentSize: 42})
	if err != nil {
		t.Fatal(err)
	}
	if res.Serviced != 6 {
		t.Errorf("result = %+v", res)
	}
	s := a.PerformanceStats()
	if s.ClassPackets[classify.ClassGame] != 3 || s.BytesSent != uint64(6*len(frames[0])) {
		t.Errorf("stats = %+v", s)
	}
}

func TestReplayPcapngFile(t *testing.T) {
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range testFrames(t) {
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(f), Length: len(f), InterfaceIndex: 0}
		if err := w.WritePacket(ci, f); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "game.pcapng")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	a := newAdapter(t)
	res, err := File(context.Background(), path, a, Options{Direction: stats.Transmit})
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	if res.Serviced != 6 {
		t.Errorf("result = %+v", res)
	}
}

func TestReplayErrors(t *testing.T) {
	a := newAdapter(t)
	raw := writePcap(t, testFrames(t), layers.LinkTypeRaw)
	if _, err := Reader(context.Background(), bytes.NewReader(raw), a, Options{}); err == nil ||
		!strings.Contains(err.Error(), "unsupported link type") {
		t.Errorf("raw link err = %v", err)
	}
	if _, err := Reader(context.Background(), strings.NewReader("not a capture"), a, Options{}); err == nil {
		t.Error("expected error for garbage input")
	}
	if _, err := File(context.Background(), filepath.Join(t.TempDir(), "missing.pcap"), a, Options{}); err == nil {
		t.Error("expected error for missing file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	good := writePcap(t, testFrames(t), layers.LinkTypeEthernet)
	if _, err := Reader(ctx, bytes.NewReader(good), a, Options{}); err != context.Canceled {
		t.Errorf("cancelled err = %v", err)
	}
}

func TestSplit(t *testing.T) {
	frame := []byte("abcdefghij")
	if got := split(frame, 0); len(got) != 1 {
		t.Errorf("split(0) = %q", got)
	}
	got := split(frame, 4)
	if len(got) != 3 || string(got[0]) != "abcd" || string(got[2]) != "ij" {
		t.Errorf("split(4) = %q", got)
	}
}
