// nicqosd is the nicqos traffic classification and QoS daemon.
//
// It classifies traffic by port, drives the NIC's descriptor rings and
// tunes the hardware from the active gaming profile. Profiles can be
// switched at runtime over the HTTP and gRPC APIs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/psaab/nicqos/pkg/daemon"
	"github.com/psaab/nicqos/pkg/logging"
	"github.com/psaab/nicqos/pkg/stats"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "cleanup" {
		fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
		configFile := fs.String("config", daemon.DefaultConfigFile, "configuration file path")
		fs.Parse(os.Args[2:])
		logging.Setup(os.Stderr, false)
		if err := daemon.Cleanup(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup BPF: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("all pinned BPF state removed")
		return
	}

	configFile := flag.String("config", daemon.DefaultConfigFile, "configuration file path")
	apiAddr := flag.String("api-addr", "", "HTTP API listen address (overrides config)")
	grpcAddr := flag.String("grpc-addr", "", "gRPC API listen address (overrides config)")
	replayFile := flag.String("replay", "", "pcap or pcapng file to push through the rings at startup")
	replayDir := flag.String("replay-direction", "tx", "ring the replay is posted to (tx or rx)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	recent := logging.Setup(os.Stderr, *debug)

	dir, err := stats.ParseDirection(*replayDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nicqosd: -replay-direction: %v\n", err)
		os.Exit(2)
	}

	d := daemon.New(daemon.Options{
		ConfigFile:      *configFile,
		APIAddr:         *apiAddr,
		GRPCAddr:        *grpcAddr,
		Replay:          *replayFile,
		ReplayDirection: dir,
		Recent:          recent,
	})

	if err := d.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "nicqosd: %v\n", err)
		os.Exit(1)
	}
}
