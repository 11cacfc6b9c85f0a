package daemon

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/psaab/nicqos/pkg/stats"
)

const testConfig = `
system {
    register-backend memory;
    sample-interval 50ms;
    api-address 127.0.0.1:0;
    grpc-address 127.0.0.1:0;
}
gaming {
    active-profile competitive;
    port-class game {
        port 40010;
    }
}
`

func writeReplay(t *testing.T, path string, ports [][2]uint16) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatal(err)
	}
	for i, p := range ports {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
			SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 2}}
		udp := &layers.UDP{SrcPort: layers.UDPPort(p[0]), DstPort: layers.UDPPort(p[1])}
		udp.SetNetworkLayerForChecksum(ip)
		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("ping"))); err != nil {
			t.Fatal(err)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)),
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := w.WritePacket(ci, buf.Bytes()); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunReplayAndShutdown(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "nicqos.conf")
	if err := os.WriteFile(cfgPath, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	pcapPath := filepath.Join(dir, "replay.pcap")
	writeReplay(t, pcapPath, [][2]uint16{
		{50000, 40010}, // game via configured port
		{50001, 5060},  // voice
		{50002, 50003}, // background
	})

	d := New(Options{
		ConfigFile:      cfgPath,
		Replay:          pcapPath,
		ReplayDirection: stats.Transmit,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if a := d.Adapter(); a != nil && a.PerformanceStats().TotalPacketsSent == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("replay did not complete")
		}
		time.Sleep(10 * time.Millisecond)
	}

	a := d.Adapter()
	st := a.Status()
	if st.Profile != "competitive" {
		t.Errorf("profile = %q, want competitive", st.Profile)
	}
	if st.Live.RxDescriptors != 512 {
		t.Errorf("rx descriptors = %d, want 512", st.Live.RxDescriptors)
	}
	if st.NeedsRestart {
		t.Error("startup left a restart pending")
	}
	snap := a.PerformanceStats()
	if snap.HighPriorityPacketsSent != 2 {
		t.Errorf("high priority sent = %d, want 2", snap.HighPriorityPacketsSent)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunMissingReplay(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "nicqos.conf")
	if err := os.WriteFile(cfgPath, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	d := New(Options{ConfigFile: cfgPath, Replay: filepath.Join(dir, "nope.pcap")})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Run(ctx); err == nil {
		t.Fatal("Run succeeded with a missing replay file")
	}
}

func TestPick(t *testing.T) {
	if got := pick("", "a"); got != "a" {
		t.Errorf("pick = %q", got)
	}
	if got := pick("b", "a"); got != "b" {
		t.Errorf("pick = %q", got)
	}
}
