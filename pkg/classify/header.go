package classify

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// PacketHeader carries the header fields classification needs.
type PacketHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Protocol layers.IPProtocol
	// HasPorts is false for non-TCP/UDP or truncated frames.
	HasPorts bool
	// Parsed is set once the fields have been extracted, whether or not
	// ports were found.
	Parsed bool
}

// HeaderParser extracts PacketHeader fields from raw Ethernet frames.
// It reuses its decoding buffers and is not safe for concurrent use; keep
// one per ring.
type HeaderParser struct {
	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	ip4     layers.IPv4
	ip6     layers.IPv6
	tcp     layers.TCP
	udp     layers.UDP
	decoded []gopacket.LayerType
}

// NewHeaderParser returns a parser for Ethernet frames carrying optional
// 802.1Q tags, IPv4 or IPv6, and TCP or UDP.
func NewHeaderParser() *HeaderParser {
	hp := &HeaderParser{decoded: make([]gopacket.LayerType, 0, 8)}
	hp.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&hp.eth, &hp.dot1q, &hp.ip4, &hp.ip6, &hp.tcp, &hp.udp)
	hp.parser.IgnoreUnsupported = true
	return hp
}

// Parse decodes frame up to the transport header. It never fails:
// anything it cannot decode yields a header with HasPorts false.
func (hp *HeaderParser) Parse(frame []byte) PacketHeader {
	h := PacketHeader{Parsed: true}
	if len(frame) == 0 {
		return h
	}
	// Errors still leave the successfully decoded layers in hp.decoded.
	_ = hp.parser.DecodeLayers(frame, &hp.decoded)
	for _, lt := range hp.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			h.Protocol = hp.ip4.Protocol
		case layers.LayerTypeIPv6:
			h.Protocol = hp.ip6.NextHeader
		case layers.LayerTypeTCP:
			h.SrcPort, h.DstPort = uint16(hp.tcp.SrcPort), uint16(hp.tcp.DstPort)
			h.HasPorts = true
		case layers.LayerTypeUDP:
			h.SrcPort, h.DstPort = uint16(hp.udp.SrcPort), uint16(hp.udp.DstPort)
			h.HasPorts = true
		}
	}
	return h
}
