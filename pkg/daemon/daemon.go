// Package daemon implements the nicqos daemon lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/psaab/nicqos/pkg/adapter"
	"github.com/psaab/nicqos/pkg/api"
	"github.com/psaab/nicqos/pkg/config"
	"github.com/psaab/nicqos/pkg/configstore"
	"github.com/psaab/nicqos/pkg/dataplane"
	"github.com/psaab/nicqos/pkg/grpcapi"
	"github.com/psaab/nicqos/pkg/hw"
	"github.com/psaab/nicqos/pkg/logging"
	"github.com/psaab/nicqos/pkg/profile"
	"github.com/psaab/nicqos/pkg/replay"
	"github.com/psaab/nicqos/pkg/sampler"
	"github.com/psaab/nicqos/pkg/stats"
)

// DefaultConfigFile is used when Options.ConfigFile is empty.
const DefaultConfigFile = "/etc/nicqos/nicqos.conf"

// Options configures the daemon.
type Options struct {
	ConfigFile string
	// APIAddr and GRPCAddr override the configured listen addresses.
	APIAddr  string
	GRPCAddr string
	// Replay is a pcap or pcapng file pushed through the rings at startup.
	Replay          string
	ReplayDirection stats.Direction
	Recent          *logging.RecentHandler
}

// Daemon is the main nicqos daemon.
type Daemon struct {
	opts    Options
	store   *configstore.Store
	dp      *dataplane.Manager
	adapter atomic.Pointer[adapter.Adapter]
}

// New creates a new Daemon.
func New(opts Options) *Daemon {
	if opts.ConfigFile == "" {
		opts.ConfigFile = DefaultConfigFile
	}
	return &Daemon{
		opts:  opts,
		store: configstore.New(opts.ConfigFile),
	}
}

// Adapter returns the running adapter, or nil before Run has built it.
func (d *Daemon) Adapter() *adapter.Adapter {
	return d.adapter.Load()
}

// Run starts the daemon and blocks until ctx is cancelled or a
// component fails.
func (d *Daemon) Run(ctx context.Context) (err error) {
	slog.Info("starting nicqos daemon",
		"config", d.opts.ConfigFile,
		"pid", os.Getpid())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := d.store.Load(); err != nil {
		slog.Warn("failed to load config, starting with defaults", "err", err)
	}
	cfg := d.store.ActiveConfig()

	regs := d.registers(cfg)
	defer func() {
		if d.dp != nil {
			err = multierr.Append(err, d.dp.Close())
		}
	}()

	ports, err := cfg.PortTable()
	if err != nil {
		return fmt.Errorf("port table: %w", err)
	}
	if d.dp != nil {
		n, err := d.dp.SyncPortTable(ports)
		if err != nil {
			slog.Warn("failed to sync port table", "err", err)
		} else {
			slog.Info("port table synced", "entries", n)
		}
	}

	a, err := adapter.New(adapter.Options{
		Name:      "nic0",
		Registers: regs,
		Ports:     ports,
		Rings: profile.RingConfig{
			RxDescriptors: cfg.System.RxDescriptors,
			TxDescriptors: cfg.System.TxDescriptors,
		},
	})
	if err != nil {
		return err
	}
	defer func() {
		logFinalStats(a.PerformanceStats())
		err = multierr.Append(err, a.Close())
	}()

	p, err := cfg.ResolveProfile(cfg.Gaming.ActiveProfile)
	if err != nil {
		slog.Warn("unknown active profile, using balanced",
			"profile", cfg.Gaming.ActiveProfile, "err", err)
		p = profile.ForKind(profile.KindBalanced)
	}
	if _, err := a.Init(p); err != nil {
		return fmt.Errorf("init adapter: %w", err)
	}
	// Nothing services the rings yet, so staged sizes apply now.
	if a.Status().NeedsRestart {
		if _, err := a.Restart(); err != nil {
			return fmt.Errorf("resize rings: %w", err)
		}
	}
	d.adapter.Store(a)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.newSampler(cfg, a).Run(gctx)
	})
	if addr := pick(d.opts.APIAddr, cfg.System.APIAddr); addr != "" {
		srv := api.NewServer(d.apiConfig(addr, cfg, a))
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	if addr := pick(d.opts.GRPCAddr, cfg.System.GRPCAddr); addr != "" {
		srv := grpcapi.NewServer(addr, grpcapi.Config{
			Adapter: a,
			Store:   d.store,
			DP:      d.dataPlane(),
		})
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	if d.opts.Replay != "" {
		g.Go(func() error {
			release := a.Hold()
			defer release()
			res, err := replay.File(gctx, d.opts.Replay, a, replay.Options{
				Direction: d.opts.ReplayDirection,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return fmt.Errorf("replay %s: %w", d.opts.Replay, err)
			}
			slog.Info("replay complete", "file", d.opts.Replay,
				"direction", d.opts.ReplayDirection,
				"frames", res.Frames, "posted", res.Posted,
				"serviced", res.Serviced, "dropped", res.Dropped)
			return nil
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		slog.Info("signal received, shutting down")
	}
	slog.Info("shutdown complete")
	return err
}

// registers picks the register backend. A bpf backend that fails to
// load falls back to memory.
func (d *Daemon) registers(cfg *config.Config) hw.RegisterSpace {
	if cfg.System.RegisterBackend == config.BackendBPF {
		dp := dataplane.New(cfg.System.PinPath)
		if err := dp.Load(); err != nil {
			slog.Warn("failed to load eBPF maps, using in-memory registers", "err", err)
		} else {
			d.dp = dp
			return dp.Registers()
		}
	}
	return hw.NewMem(hw.RegisterSpaceSize)
}

// dataPlane avoids handing out a typed nil interface.
func (d *Daemon) dataPlane() dataplane.DataPlane {
	if d.dp == nil {
		return nil
	}
	return d.dp
}

func (d *Daemon) apiConfig(addr string, cfg *config.Config, a *adapter.Adapter) api.Config {
	c := api.Config{
		Addr:    addr,
		Adapter: a,
		Store:   d.store,
		DP:      d.dataPlane(),
		Recent:  d.opts.Recent,
	}
	if len(cfg.System.APIKeys) > 0 {
		c.Auth = &api.AuthConfig{APIKeys: cfg.System.APIKeys}
	}
	return c
}

func (d *Daemon) newSampler(cfg *config.Config, a *adapter.Adapter) *sampler.Sampler {
	var src sampler.Source = sampler.StatsSource{Stats: a.Stats()}
	if cfg.System.Interface != "" {
		src = sampler.LinkSource{Name: cfg.System.Interface}
	}
	var prober sampler.Prober
	if cfg.System.LatencyProbe != "" {
		prober = sampler.TCPProber{Addr: cfg.System.LatencyProbe}
	}
	return sampler.New(a.Stats(), src, prober, cfg.System.SampleInterval)
}

func pick(override, configured string) string {
	if override != "" {
		return override
	}
	return configured
}

func logFinalStats(s stats.Snapshot) {
	slog.Info("final statistics",
		"packets_sent", s.TotalPacketsSent,
		"packets_received", s.TotalPacketsReceived,
		"high_priority_sent", s.HighPriorityPacketsSent,
		"high_priority_received", s.HighPriorityPacketsReceived,
		"low_latency_sent", s.LowLatencyPacketsSent,
		"low_latency_received", s.LowLatencyPacketsReceived,
		"bytes_sent", s.BytesSent,
		"bytes_received", s.BytesReceived)
}

// Cleanup removes maps pinned by a previous run.
func Cleanup(configFile string) error {
	if configFile == "" {
		configFile = DefaultConfigFile
	}
	store := configstore.New(configFile)
	if err := store.Load(); err != nil {
		slog.Warn("failed to load config, using default pin path", "err", err)
	}
	dp := dataplane.New(store.ActiveConfig().System.PinPath)
	if err := dp.Load(); err != nil {
		return fmt.Errorf("open pinned maps: %w", err)
	}
	return dp.Teardown()
}
