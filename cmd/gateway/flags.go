package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds flag values for the gateway binary. The positional
// argument convention matches the teacher pack's single-argument CLI
// (`gateway <ws_port> [host:port ...]`), generalized with a -discover flag
// in place of passing static agent addresses.
type cliConfig struct {
	wsPort         int
	logLevel       string
	metricsAddr    string
	discover       bool
	staticAgents   []string
	maxBytesPerSec int64
	showVersion    bool
}

type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ", ") }
func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	var staticAgents stringSliceFlag

	fs.IntVar(&cfg.wsPort, "ws-port", 8080, "WebSocket listen port for clients")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", ":9092", "Prometheus /metrics and /ready listen address")
	fs.BoolVar(&cfg.discover, "discover", false, "Discover agents via UDP broadcast instead of static addresses")
	fs.Var(&staticAgents, "agent", "Static agent address host:port (can be specified multiple times)")
	fs.Int64Var(&cfg.maxBytesPerSec, "max-bytes-per-sec", 0, "Per-client byte-rate cap; not applied: the WebSocket server allocates every client with a cap of 0, so no rate limiting takes place")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() > 0 {
		var p int
		if _, err := fmt.Sscanf(fs.Arg(0), "%d", &p); err == nil && p > 0 {
			cfg.wsPort = p
		}
		for _, a := range fs.Args()[1:] {
			staticAgents = append(staticAgents, a)
		}
	}
	cfg.staticAgents = staticAgents

	if !cfg.discover && len(cfg.staticAgents) == 0 {
		return nil, fmt.Errorf("specify -discover or at least one static agent address")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	return cfg, nil
}
