package config

import (
	"time"

	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/profile"
)

// Config is the compiled configuration.
type Config struct {
	System SystemConfig
	Gaming GamingConfig
}

// Register backends.
const (
	BackendMemory = "memory"
	BackendBPF    = "bpf"
)

// SystemConfig holds the "system" block.
type SystemConfig struct {
	// Interface is the kernel link sampled for bandwidth; empty samples
	// the engine's own byte counters.
	Interface       string
	RegisterBackend string
	PinPath         string
	SampleInterval  time.Duration
	// LatencyProbe is a host:port dialed to measure latency; empty disables.
	LatencyProbe  string
	RxDescriptors uint32
	TxDescriptors uint32
	// APIAddr and GRPCAddr are listen addresses; "" disables the listener.
	APIAddr  string
	GRPCAddr string
	// APIKeys are the tokens the HTTP API accepts; empty disables auth.
	APIKeys []string
}

// GamingConfig holds the "gaming" block.
type GamingConfig struct {
	// ActiveProfile names a built-in kind or an entry of Profiles.
	ActiveProfile string
	Profiles      map[string]profile.GamingProfile
	// ExtraPorts are added to the built-in port table.
	ExtraPorts map[classify.TrafficClass][]uint16
}

// Defaults applied when the file omits a setting.
const (
	DefaultPinPath        = "/sys/fs/bpf/nicqos"
	DefaultSampleInterval = time.Second
	DefaultActiveProfile  = "balanced"
	DefaultAPIAddr        = "127.0.0.1:8080"
	DefaultGRPCAddr       = "127.0.0.1:50051"
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		System: SystemConfig{
			RegisterBackend: BackendMemory,
			PinPath:         DefaultPinPath,
			SampleInterval:  DefaultSampleInterval,
			APIAddr:         DefaultAPIAddr,
			GRPCAddr:        DefaultGRPCAddr,
		},
		Gaming: GamingConfig{
			ActiveProfile: DefaultActiveProfile,
			Profiles:      map[string]profile.GamingProfile{},
			ExtraPorts:    map[classify.TrafficClass][]uint16{},
		},
	}
}

// ResolveProfile returns the profile called name: a user-defined profile
// first, then a built-in kind.
func (c *Config) ResolveProfile(name string) (profile.GamingProfile, error) {
	if p, ok := c.Gaming.Profiles[name]; ok {
		return p, nil
	}
	k, err := profile.ParseKind(name)
	if err != nil {
		return profile.GamingProfile{}, err
	}
	return profile.ForKind(k), nil
}

// PortTable returns the built-in table extended with configured ports.
func (c *Config) PortTable() (*classify.PortTable, error) {
	t := classify.DefaultPortTable()
	for _, cls := range classify.Classes() {
		ports := c.Gaming.ExtraPorts[cls]
		if len(ports) == 0 {
			continue
		}
		var err error
		if t, err = t.Extend(cls, ports); err != nil {
			return nil, err
		}
	}
	return t, nil
}
