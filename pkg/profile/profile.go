// Package profile defines gaming profiles and the store that keeps the
// active one.
package profile

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidProfile is wrapped by every validation failure.
var ErrInvalidProfile = errors.New("invalid profile")

// Kind identifies where a profile came from.
type Kind uint8

const (
	KindBalanced Kind = iota
	KindCompetitive
	KindStreaming
	KindCustom
)

var kindNames = [...]string{"balanced", "competitive", "streaming", "custom"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if strings.EqualFold(s, name) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown profile kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// GamingProfile is a bundle of feature toggles and hardware tunables.
// Zero sizes, moderation or descriptor counts mean "leave as is".
type GamingProfile struct {
	Kind Kind   `json:"kind"`
	Name string `json:"name,omitempty"`

	TrafficPrioritization bool `json:"traffic_prioritization"`
	LatencyReduction      bool `json:"latency_reduction"`
	BandwidthControl      bool `json:"bandwidth_control"`
	SmartPowerManagement  bool `json:"smart_power_management"`

	ReceiveBufferSize   uint32 `json:"receive_buffer_size"`
	TransmitBufferSize  uint32 `json:"transmit_buffer_size"`
	InterruptModeration uint32 `json:"interrupt_moderation"`
	ReceiveDescriptors  uint32 `json:"receive_descriptors"`
	TransmitDescriptors uint32 `json:"transmit_descriptors"`
}

// DisplayName returns Name, falling back to the kind.
func (p GamingProfile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Kind.String()
}

// Balanced trades a little latency for efficiency.
func Balanced() GamingProfile {
	return GamingProfile{
		Kind:                  KindBalanced,
		TrafficPrioritization: true,
		LatencyReduction:      true,
		BandwidthControl:      true,
		SmartPowerManagement:  true,
		ReceiveBufferSize:     2048,
		TransmitBufferSize:    2048,
		InterruptModeration:   50,
		ReceiveDescriptors:    256,
		TransmitDescriptors:   256,
	}
}

// Competitive disables coalescing and power saving for minimum latency.
func Competitive() GamingProfile {
	return GamingProfile{
		Kind:                  KindCompetitive,
		TrafficPrioritization: true,
		LatencyReduction:      true,
		BandwidthControl:      true,
		SmartPowerManagement:  false,
		ReceiveBufferSize:     4096,
		TransmitBufferSize:    4096,
		InterruptModeration:   0,
		ReceiveDescriptors:    512,
		TransmitDescriptors:   512,
	}
}

// Streaming favors throughput with heavy coalescing and large rings.
func Streaming() GamingProfile {
	return GamingProfile{
		Kind:                  KindStreaming,
		TrafficPrioritization: true,
		LatencyReduction:      false,
		BandwidthControl:      true,
		SmartPowerManagement:  true,
		ReceiveBufferSize:     8192,
		TransmitBufferSize:    8192,
		InterruptModeration:   80,
		ReceiveDescriptors:    1024,
		TransmitDescriptors:   1024,
	}
}

// Custom is the starting point for user-defined profiles: prioritization
// and power management on, every tunable left unchanged.
func Custom() GamingProfile {
	return GamingProfile{
		Kind:                  KindCustom,
		TrafficPrioritization: true,
		SmartPowerManagement:  true,
	}
}

// ForKind returns the canned profile for k.
func ForKind(k Kind) GamingProfile {
	switch k {
	case KindCompetitive:
		return Competitive()
	case KindStreaming:
		return Streaming()
	case KindCustom:
		return Custom()
	default:
		return Balanced()
	}
}

// Validate checks tunables against what the hardware accepts.
func (p GamingProfile) Validate() error {
	if p.Kind > KindCustom {
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidProfile, p.Kind)
	}
	if p.InterruptModeration > 100 {
		return fmt.Errorf("%w: interrupt moderation %d out of range 0-100", ErrInvalidProfile, p.InterruptModeration)
	}
	for _, b := range []struct {
		name string
		v    uint32
	}{
		{"receive buffer size", p.ReceiveBufferSize},
		{"transmit buffer size", p.TransmitBufferSize},
	} {
		switch b.v {
		case 0, 2048, 4096, 8192, 16384:
		default:
			return fmt.Errorf("%w: %s %d not one of 2048, 4096, 8192, 16384", ErrInvalidProfile, b.name, b.v)
		}
	}
	for _, d := range []struct {
		name string
		v    uint32
	}{
		{"receive descriptors", p.ReceiveDescriptors},
		{"transmit descriptors", p.TransmitDescriptors},
	} {
		if d.v == 0 {
			continue
		}
		if d.v < MinDescriptors || d.v > MaxDescriptors || d.v&(d.v-1) != 0 {
			return fmt.Errorf("%w: %s %d must be a power of two in [%d, %d]",
				ErrInvalidProfile, d.name, d.v, MinDescriptors, MaxDescriptors)
		}
	}
	return nil
}

// Descriptor ring size limits.
const (
	MinDescriptors = 64
	MaxDescriptors = 4096
)

// Feature names one of the four profile toggles.
type Feature uint8

const (
	FeatureTrafficPrioritization Feature = iota
	FeatureLatencyReduction
	FeatureBandwidthControl
	FeatureSmartPowerManagement
)

var featureNames = [...]string{
	"traffic-prioritization",
	"latency-reduction",
	"bandwidth-control",
	"smart-power-management",
}

func (f Feature) String() string {
	if int(f) < len(featureNames) {
		return featureNames[f]
	}
	return fmt.Sprintf("feature(%d)", uint8(f))
}

// ParseFeature parses a feature name such as "latency-reduction".
func ParseFeature(s string) (Feature, error) {
	for i, name := range featureNames {
		if strings.EqualFold(s, name) {
			return Feature(i), nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", s)
}

// Features returns all features in application order.
func Features() []Feature {
	return []Feature{
		FeatureTrafficPrioritization,
		FeatureLatencyReduction,
		FeatureBandwidthControl,
		FeatureSmartPowerManagement,
	}
}

// Enabled reports whether f is on in p.
func (p GamingProfile) Enabled(f Feature) bool {
	switch f {
	case FeatureTrafficPrioritization:
		return p.TrafficPrioritization
	case FeatureLatencyReduction:
		return p.LatencyReduction
	case FeatureBandwidthControl:
		return p.BandwidthControl
	case FeatureSmartPowerManagement:
		return p.SmartPowerManagement
	}
	return false
}

// WithFeature returns a copy of p with f set to on.
func (p GamingProfile) WithFeature(f Feature, on bool) GamingProfile {
	switch f {
	case FeatureTrafficPrioritization:
		p.TrafficPrioritization = on
	case FeatureLatencyReduction:
		p.LatencyReduction = on
	case FeatureBandwidthControl:
		p.BandwidthControl = on
	case FeatureSmartPowerManagement:
		p.SmartPowerManagement = on
	}
	return p
}
