package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/psaab/nicqos/pkg/classify"
	"github.com/psaab/nicqos/pkg/profile"
)

// CompileConfig turns a parsed tree into a Config, starting from Default.
func CompileConfig(tree *ConfigTree) (*Config, error) {
	cfg := Default()
	for _, n := range tree.Children {
		var err error
		switch n.Name() {
		case "system":
			err = compileSystem(n, &cfg.System)
		case "gaming":
			err = compileGaming(n, &cfg.Gaming)
		default:
			err = nodeErr(n, "unknown top-level statement %q", n.Name())
		}
		if err != nil {
			return nil, err
		}
	}
	if cfg.Gaming.ActiveProfile != "" {
		if _, err := cfg.ResolveProfile(cfg.Gaming.ActiveProfile); err != nil {
			return nil, fmt.Errorf("gaming active-profile: %w", err)
		}
	}
	return cfg, nil
}

func nodeErr(n *Node, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", n.Line, fmt.Sprintf(format, args...))
}

// arg returns the single argument of a leaf.
func arg(n *Node) (string, error) {
	if !n.IsLeaf || len(n.Keys) != 2 {
		return "", nodeErr(n, "%s expects one value", n.Name())
	}
	return n.Keys[1], nil
}

func uintArg(n *Node, bits int) (uint64, error) {
	s, err := arg(n)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		return 0, nodeErr(n, "%s: %v", n.Name(), err)
	}
	return v, nil
}

func compileSystem(n *Node, sys *SystemConfig) error {
	for _, c := range n.Children {
		var err error
		switch c.Name() {
		case "interface":
			sys.Interface, err = arg(c)
		case "register-backend":
			sys.RegisterBackend, err = arg(c)
			if err == nil && sys.RegisterBackend != BackendMemory && sys.RegisterBackend != BackendBPF {
				err = nodeErr(c, "register-backend must be %q or %q", BackendMemory, BackendBPF)
			}
		case "pin-path":
			sys.PinPath, err = arg(c)
		case "sample-interval":
			var s string
			if s, err = arg(c); err == nil {
				sys.SampleInterval, err = time.ParseDuration(s)
				if err == nil && sys.SampleInterval <= 0 {
					err = nodeErr(c, "sample-interval must be positive")
				}
			}
		case "latency-probe":
			sys.LatencyProbe, err = arg(c)
		case "rx-descriptors":
			var v uint64
			v, err = uintArg(c, 32)
			sys.RxDescriptors = uint32(v)
		case "tx-descriptors":
			var v uint64
			v, err = uintArg(c, 32)
			sys.TxDescriptors = uint32(v)
		case "api-address":
			sys.APIAddr, err = arg(c)
		case "grpc-address":
			sys.GRPCAddr, err = arg(c)
		case "api-key":
			var key string
			if key, err = arg(c); err == nil {
				sys.APIKeys = append(sys.APIKeys, key)
			}
		default:
			err = nodeErr(c, "unknown system statement %q", c.Name())
		}
		if err != nil {
			return fmt.Errorf("system: %w", err)
		}
	}
	return nil
}

func compileGaming(n *Node, g *GamingConfig) error {
	for _, c := range n.Children {
		var err error
		switch c.Name() {
		case "active-profile":
			g.ActiveProfile, err = arg(c)
		case "profile":
			err = compileProfile(c, g)
		case "port-class":
			err = compilePortClass(c, g)
		default:
			err = nodeErr(c, "unknown gaming statement %q", c.Name())
		}
		if err != nil {
			return fmt.Errorf("gaming: %w", err)
		}
	}
	return nil
}

func compileProfile(n *Node, g *GamingConfig) error {
	if n.IsLeaf || len(n.Keys) != 2 {
		return nodeErr(n, "profile expects a name and a block")
	}
	name := n.Keys[1]
	if _, err := profile.ParseKind(name); err == nil {
		return nodeErr(n, "profile name %q is reserved", name)
	}
	if _, dup := g.Profiles[name]; dup {
		return nodeErr(n, "profile %q defined twice", name)
	}

	p := profile.Custom()
	p.Name = name
	// A profile without toggles starts with every feature off.
	p.TrafficPrioritization, p.SmartPowerManagement = false, false
	for _, c := range n.Children {
		if f, err := profile.ParseFeature(c.Name()); err == nil {
			on, err := toggle(c)
			if err != nil {
				return err
			}
			p = p.WithFeature(f, on)
			continue
		}
		var v uint64
		var err error
		switch c.Name() {
		case "base":
			// base replaces everything set before it.
			var s string
			if s, err = arg(c); err == nil {
				var k profile.Kind
				if k, err = profile.ParseKind(s); err == nil {
					base := profile.ForKind(k)
					base.Kind, base.Name = profile.KindCustom, name
					p = base
				}
			}
		case "interrupt-moderation":
			v, err = uintArg(c, 32)
			p.InterruptModeration = uint32(v)
		case "receive-buffer-size":
			v, err = uintArg(c, 32)
			p.ReceiveBufferSize = uint32(v)
		case "transmit-buffer-size":
			v, err = uintArg(c, 32)
			p.TransmitBufferSize = uint32(v)
		case "receive-descriptors":
			v, err = uintArg(c, 32)
			p.ReceiveDescriptors = uint32(v)
		case "transmit-descriptors":
			v, err = uintArg(c, 32)
			p.TransmitDescriptors = uint32(v)
		default:
			err = nodeErr(c, "unknown profile statement %q", c.Name())
		}
		if err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("profile %s: %w", name, err)
	}
	g.Profiles[name] = p
	return nil
}

// toggle reads "feature;", "feature enable;" or "feature disable;".
func toggle(n *Node) (bool, error) {
	switch {
	case len(n.Keys) == 1:
		return true, nil
	case len(n.Keys) == 2 && n.Keys[1] == "enable":
		return true, nil
	case len(n.Keys) == 2 && n.Keys[1] == "disable":
		return false, nil
	}
	return false, nodeErr(n, "%s accepts only enable or disable", n.Name())
}

func compilePortClass(n *Node, g *GamingConfig) error {
	if n.IsLeaf || len(n.Keys) != 2 {
		return nodeErr(n, "port-class expects a class name and a block")
	}
	cls, err := classify.ParseTrafficClass(n.Keys[1])
	if err != nil || cls == classify.ClassBackground {
		return nodeErr(n, "port-class must be game, voice or streaming")
	}
	for _, c := range n.Children {
		if c.Name() != "port" || len(c.Keys) < 2 {
			return nodeErr(c, "port-class %s: expected port <number>...", n.Keys[1])
		}
		for _, s := range c.Args() {
			v, err := strconv.ParseUint(s, 10, 16)
			if err != nil || v == 0 {
				return nodeErr(c, "invalid port %q", s)
			}
			g.ExtraPorts[cls] = append(g.ExtraPorts[cls], uint16(v))
		}
	}
	return nil
}
