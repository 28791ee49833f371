package main

import (
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds flag values prior to translation into the agent's
// runtime wiring.
type cliConfig struct {
	port         int
	logLevel     string
	metricsAddr  string
	advertise    string
	showVersion  bool
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.IntVar(&cfg.port, "port", 9090, "TCP control/data listen port")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", ":9091", "Prometheus /metrics and /ready listen address")
	fs.StringVar(&cfg.advertise, "advertise-host", "", "Hostname to advertise via discovery (empty: peers use sender IP)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	// Support the teacher-pack CLI convention of a single positional port
	// argument (`agent [port]`) in addition to -port.
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		var p int
		if _, err := fmt.Sscanf(fs.Arg(0), "%d", &p); err == nil && p > 0 {
			cfg.port = p
		}
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}
	if cfg.port <= 0 || cfg.port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", cfg.port)
	}

	return cfg, nil
}
