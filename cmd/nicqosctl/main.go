// nicqosctl is the remote CLI client for nicqosd.
//
// With arguments it runs one command and exits; without, it opens an
// interactive shell against the nicqosd gRPC API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/psaab/nicqos/pkg/grpcapi"
	"github.com/psaab/nicqos/pkg/profile"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:50051", "nicqosd gRPC address")
	timeout := flag.Duration("timeout", 5*time.Second, "per-command timeout")
	flag.Parse()

	client, err := grpcapi.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nicqosctl: connect: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	c := &ctl{client: client, timeout: *timeout}

	if flag.NArg() > 0 {
		if err := c.dispatch(flag.Args()); err != nil && !errors.Is(err, errExit) {
			fmt.Fprintf(os.Stderr, "nicqosctl: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	st, err := client.Status(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nicqosctl: cannot reach nicqosd at %s: %v\n", *addr, err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "nicqos> ",
		HistoryFile:     "/tmp/nicqosctl_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "nicqosctl: readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Printf("nicqosctl: connected to nicqosd (adapter %s, profile %s, uptime %s)\n",
		st.Name, st.Profile, st.Uptime)
	fmt.Println("Type 'help' for commands")
	fmt.Println()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			break
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if err := c.dispatch(parts); err != nil {
			if errors.Is(err, errExit) {
				break
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

var errExit = errors.New("exit")

type ctl struct {
	client  *grpcapi.Client
	timeout time.Duration
}

func (c *ctl) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *ctl) dispatch(parts []string) error {
	switch parts[0] {
	case "status":
		return c.showStatus()
	case "stats", "statistics":
		return c.showStatistics()
	case "profile":
		return c.showProfile()
	case "apply":
		if len(parts) != 2 {
			return fmt.Errorf("usage: apply <profile>")
		}
		return c.apply(parts[1])
	case "feature":
		if len(parts) != 3 {
			return fmt.Errorf("usage: feature <name> on|off")
		}
		return c.feature(parts[1], parts[2])
	case "restart":
		return c.restart()
	case "rollback":
		n := 0
		if len(parts) > 1 {
			v, err := strconv.Atoi(parts[1])
			if err != nil || v < 0 {
				return fmt.Errorf("rollback: invalid index %q", parts[1])
			}
			n = v
		}
		return c.rollback(n)
	case "classify":
		if len(parts) != 3 {
			return fmt.Errorf("usage: classify <src-port> <dst-port>")
		}
		return c.classify(parts[1], parts[2])
	case "quit", "exit":
		return errExit
	case "?", "help":
		showHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", parts[0])
	}
}

func (c *ctl) showStatus() error {
	ctx, cancel := c.ctx()
	defer cancel()
	st, err := c.client.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Adapter: %s\n", st.Name)
	fmt.Printf("  %-25s %s\n", "Profile:", st.Profile)
	fmt.Printf("  %-25s %d\n", "Generation:", st.Generation)
	fmt.Printf("  %-25s %s\n", "Uptime:", st.Uptime)
	fmt.Printf("  %-25s rx %d, tx %d\n", "Rings:", st.Live.RxDescriptors, st.Live.TxDescriptors)
	if st.NeedsRestart {
		fmt.Printf("  %-25s rx %d, tx %d (restart required)\n", "Pending rings:",
			st.Pending.RxDescriptors, st.Pending.TxDescriptors)
	}
	fmt.Printf("  %-25s %d\n", "Restarts:", st.Restarts)
	fmt.Printf("  %-25s %s\n", "Interrupt moderation:", st.Moderation)
	fmt.Printf("  %-25s %v\n", "Traffic prioritization:", st.FastPath.TrafficPrioritization)
	fmt.Printf("  %-25s %v\n", "Latency reduction:", st.FastPath.LatencyReduction)
	fmt.Printf("  %-25s %v\n", "Bandwidth control:", st.FastPath.BandwidthControl)
	fmt.Printf("  %-25s %v\n", "eBPF dataplane:", st.DataplaneLoaded)
	return nil
}

func (c *ctl) showStatistics() error {
	ctx, cancel := c.ctx()
	defer cancel()
	s, err := c.client.Statistics(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Performance statistics:")
	fmt.Printf("  %-25s %d\n", "TX packets:", s.Transmit.Packets)
	fmt.Printf("  %-25s %d\n", "TX bytes:", s.Transmit.Bytes)
	fmt.Printf("  %-25s %d\n", "TX high priority:", s.Transmit.HighPrio)
	fmt.Printf("  %-25s %d\n", "TX low latency:", s.Transmit.LowLatency)
	fmt.Printf("  %-25s %d\n", "RX packets:", s.Receive.Packets)
	fmt.Printf("  %-25s %d\n", "RX bytes:", s.Receive.Bytes)
	fmt.Printf("  %-25s %d\n", "RX high priority:", s.Receive.HighPrio)
	fmt.Printf("  %-25s %d\n", "RX low latency:", s.Receive.LowLatency)
	fmt.Printf("  %-25s %.2f (avg %.2f, peak %.2f)\n", "Latency ms:",
		s.LatencyMs.Current, s.LatencyMs.Average, s.LatencyMs.Peak)
	fmt.Printf("  %-25s %.0f (avg %.0f, peak %.0f)\n", "Bandwidth kbps:",
		s.BandwidthKbps.Current, s.BandwidthKbps.Average, s.BandwidthKbps.Peak)
	printCounts("Packets by class:", s.Classes)
	printCounts("Packets sent by priority:", s.PrioritySent)
	return nil
}

func printCounts(title string, m map[string]uint64) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println(title)
	for _, k := range keys {
		fmt.Printf("  %-25s %d\n", k+":", m[k])
	}
}

func (c *ctl) showProfile() error {
	ctx, cancel := c.ctx()
	defer cancel()
	r, err := c.client.Profile(ctx)
	if err != nil {
		return err
	}
	p := r.Profile
	fmt.Printf("Profile: %s (kind %s, generation %d)\n", r.DisplayName, p.Kind, r.Generation)
	for _, f := range profile.Features() {
		state := "disabled"
		if p.Enabled(f) {
			state = "enabled"
		}
		fmt.Printf("  %-25s %s\n", f.String()+":", state)
	}
	fmt.Printf("  %-25s %d\n", "Receive buffer:", p.ReceiveBufferSize)
	fmt.Printf("  %-25s %d\n", "Transmit buffer:", p.TransmitBufferSize)
	fmt.Printf("  %-25s %d\n", "Interrupt moderation:", p.InterruptModeration)
	fmt.Printf("  %-25s %d\n", "Receive descriptors:", p.ReceiveDescriptors)
	fmt.Printf("  %-25s %d\n", "Transmit descriptors:", p.TransmitDescriptors)
	return nil
}

func printResult(r profile.Result) {
	fmt.Printf("generation %d\n", r.Generation)
	if r.NeedsRestart {
		fmt.Printf("ring sizes rx %d, tx %d staged; run 'restart' to apply\n",
			r.Pending.RxDescriptors, r.Pending.TxDescriptors)
	}
}

func (c *ctl) apply(name string) error {
	ctx, cancel := c.ctx()
	defer cancel()
	r, err := c.client.ApplyProfileByName(ctx, name)
	if err != nil {
		return err
	}
	printResult(r)
	return nil
}

func (c *ctl) feature(name, state string) error {
	var enable bool
	switch state {
	case "on", "enable":
		enable = true
	case "off", "disable":
	default:
		return fmt.Errorf("feature: state must be on or off, got %q", state)
	}
	ctx, cancel := c.ctx()
	defer cancel()
	r, err := c.client.SetFeature(ctx, name, enable)
	if err != nil {
		return err
	}
	printResult(r)
	return nil
}

func (c *ctl) restart() error {
	ctx, cancel := c.ctx()
	defer cancel()
	r, err := c.client.Restart(ctx)
	if err != nil {
		return err
	}
	if r.Resized {
		fmt.Printf("restarted; rings now rx %d, tx %d\n", r.Rings.RxDescriptors, r.Rings.TxDescriptors)
	} else {
		fmt.Println("restarted")
	}
	return nil
}

func (c *ctl) rollback(n int) error {
	ctx, cancel := c.ctx()
	defer cancel()
	r, err := c.client.Rollback(ctx, n)
	if err != nil {
		return err
	}
	printResult(r)
	return nil
}

func (c *ctl) classify(src, dst string) error {
	sp, err := strconv.ParseUint(src, 10, 16)
	if err != nil {
		return fmt.Errorf("classify: invalid source port %q", src)
	}
	dp, err := strconv.ParseUint(dst, 10, 16)
	if err != nil {
		return fmt.Errorf("classify: invalid destination port %q", dst)
	}
	ctx, cancel := c.ctx()
	defer cancel()
	r, err := c.client.Classify(ctx, uint16(sp), uint16(dp))
	if err != nil {
		return err
	}
	fmt.Printf("%d -> %d: class %s, priority %s, dscp %d\n",
		r.SrcPort, r.DstPort, r.Class, r.Priority, r.DSCP)
	return nil
}

func completer() *readline.PrefixCompleter {
	var kinds []readline.PrefixCompleterInterface
	for _, k := range []profile.Kind{profile.KindBalanced, profile.KindCompetitive, profile.KindStreaming} {
		kinds = append(kinds, readline.PcItem(k.String()))
	}
	var features []readline.PrefixCompleterInterface
	for _, f := range profile.Features() {
		features = append(features, readline.PcItem(f.String(),
			readline.PcItem("on"), readline.PcItem("off")))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("status"),
		readline.PcItem("stats"),
		readline.PcItem("profile"),
		readline.PcItem("apply", kinds...),
		readline.PcItem("feature", features...),
		readline.PcItem("restart"),
		readline.PcItem("rollback"),
		readline.PcItem("classify"),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
}

func showHelp() {
	fmt.Println("Commands:")
	fmt.Println("  status                        Show adapter status")
	fmt.Println("  stats                         Show performance statistics")
	fmt.Println("  profile                       Show the active profile")
	fmt.Println("  apply <profile>               Apply a built-in or configured profile")
	fmt.Println("  feature <name> on|off         Toggle one profile feature")
	fmt.Println("  restart                       Restart the adapter, applying staged ring sizes")
	fmt.Println("  rollback [N]                  Restore the Nth most recent replaced profile")
	fmt.Println("  classify <src> <dst>          Classify a port pair")
	fmt.Println("  quit                          Exit")
}
