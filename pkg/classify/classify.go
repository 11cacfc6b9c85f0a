// Package classify maps packet header fields to traffic classes and
// traffic classes to priority levels.
package classify

import (
	"fmt"
	"strings"
)

// TrafficClass is the bucket a packet falls into based on its ports.
type TrafficClass uint8

const (
	ClassBackground TrafficClass = iota
	ClassGame
	ClassVoice
	ClassStreaming

	NumClasses = 4
)

// precedence is the fixed lookup order; the first set containing either
// port wins.
var precedence = [...]TrafficClass{ClassGame, ClassVoice, ClassStreaming}

var classNames = [NumClasses]string{
	ClassBackground: "background",
	ClassGame:       "game",
	ClassVoice:      "voice",
	ClassStreaming:  "streaming",
}

func (c TrafficClass) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", uint8(c))
}

// ParseTrafficClass converts a class name ("game", "voice", ...) to a TrafficClass.
func ParseTrafficClass(s string) (TrafficClass, error) {
	for i, name := range classNames {
		if strings.EqualFold(s, name) {
			return TrafficClass(i), nil
		}
	}
	return ClassBackground, fmt.Errorf("unknown traffic class %q", s)
}

// Classes returns every traffic class in table precedence order followed
// by ClassBackground.
func Classes() []TrafficClass {
	return []TrafficClass{ClassGame, ClassVoice, ClassStreaming, ClassBackground}
}

// portSet is a 65536-bit membership bitmap.
type portSet [65536 / 64]uint64

func (s *portSet) add(p uint16)      { s[p>>6] |= 1 << (p & 63) }
func (s *portSet) has(p uint16) bool { return s[p>>6]&(1<<(p&63)) != 0 }

// PortTable maps well-known ports to traffic classes. A table is
// immutable once built and safe for concurrent use.
type PortTable struct {
	sets  [NumClasses]portSet
	ports [NumClasses][]uint16
}

// Well-known port lists used by DefaultPortTable.
var (
	DefaultGamePorts = []uint16{
		3074,                // Xbox Live / Call of Duty
		3724,                // World of Warcraft
		6112,                // Blizzard Battle.net
		27015, 27016, 27017, // Source engine / Steam
		27031, 27036, // Steam in-home streaming
		3478, 3479, 3480, // PlayStation Network
		3658,                // PlayStation voice
		14000,               // Riot
		29900, 29901, 29920, // Nintendo
		9988, 9987, // EA
		18000, // Battlefield
		8080,  // Minecraft server ports commonly remapped here
	}
	DefaultVoicePorts = []uint16{
		3478, 3479, // STUN/TURN
		50000, 50003, // Discord RTC
		3033, 3034, // TeamSpeak 2
		9987,  // TeamSpeak 3
		4713,  // PulseAudio network
		64738, // Mumble
		8767,  // TeamSpeak query
	}
	DefaultStreamingPorts = []uint16{
		1935,       // RTMP
		3478, 3479, // WebRTC
		443,        // HTTPS-based streaming
		8935, 8936, // Twitch ingest
	}
)

// NewPortTable builds a table from per-class port lists. Port 0 and
// duplicates are ignored.
func NewPortTable(game, voice, streaming []uint16) *PortTable {
	t := &PortTable{}
	t.addPorts(ClassGame, game)
	t.addPorts(ClassVoice, voice)
	t.addPorts(ClassStreaming, streaming)
	return t
}

// DefaultPortTable returns the built-in table of well-known game, voice
// and streaming ports.
func DefaultPortTable() *PortTable {
	return NewPortTable(DefaultGamePorts, DefaultVoicePorts, DefaultStreamingPorts)
}

func (t *PortTable) addPorts(c TrafficClass, ports []uint16) {
	for _, p := range ports {
		if p == 0 || t.sets[c].has(p) {
			continue
		}
		t.sets[c].add(p)
		t.ports[c] = append(t.ports[c], p)
	}
}

// Extend returns a copy of t with extra ports added to class c.
// Extending ClassBackground is an error: background is the absence of a match.
func (t *PortTable) Extend(c TrafficClass, ports []uint16) (*PortTable, error) {
	if c == ClassBackground || c >= NumClasses {
		return nil, fmt.Errorf("cannot add ports to class %s", c)
	}
	n := &PortTable{sets: t.sets}
	for i := range t.ports {
		n.ports[i] = append([]uint16(nil), t.ports[i]...)
	}
	n.addPorts(c, ports)
	return n, nil
}

// Ports returns the ports registered for class c, in insertion order.
func (t *PortTable) Ports(c TrafficClass) []uint16 {
	if c >= NumClasses {
		return nil
	}
	return append([]uint16(nil), t.ports[c]...)
}

// Contains reports whether port p is in class c's set.
func (t *PortTable) Contains(c TrafficClass, p uint16) bool {
	if c >= NumClasses {
		return false
	}
	return t.sets[c].has(p)
}

// Classify returns the traffic class for a source/destination port pair.
// Either port may match. Game beats Voice beats Streaming; anything that
// matches none of the sets is Background.
func (t *PortTable) Classify(src, dst uint16) TrafficClass {
	for _, c := range precedence {
		if t.sets[c].has(src) || t.sets[c].has(dst) {
			return c
		}
	}
	return ClassBackground
}

// ClassifyHeader classifies extracted header fields. Headers without
// transport ports are Background.
func (t *PortTable) ClassifyHeader(h PacketHeader) TrafficClass {
	if !h.HasPorts {
		return ClassBackground
	}
	return t.Classify(h.SrcPort, h.DstPort)
}
