package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sothis/remote-agent/internal/discovery"
	"github.com/sothis/remote-agent/internal/gateway"
	"github.com/sothis/remote-agent/internal/logger"
	"github.com/sothis/remote-agent/internal/metrics"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "gateway")

	metrics.StartHTTP(cfg.metricsAddr, log)

	clients := gateway.NewClientTable()
	agents := gateway.NewAgentTable()
	mux := gateway.NewMultiplexer(clients, agents, log.With("component", "multiplexer"))
	go mux.Run()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	agentStop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(agentStop)
	}()

	if cfg.discover {
		table := discovery.NewTable()
		listener := discovery.NewListener(table, log.With("component", "discovery"))
		conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: discovery.Port})
		if err != nil {
			log.Error("discovery listen failed", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := listener.Run(conn, agentStop); err != nil {
				log.Error("discovery listener stopped", "error", err)
			}
		}()
		go dialDiscoveredAgents(agentStop, table, agents, mux, log)
	} else {
		for _, addr := range cfg.staticAgents {
			go dialStaticAgentWithRetry(agentStop, addr, agents, mux, log)
		}
	}

	metrics.SetReadinessFunc(func() bool { return agents.Len() > 0 || cfg.discover })

	wsServer := gateway.NewWSServer(clients, mux, log.With("component", "wsserver"))
	mux2 := http.NewServeMux()
	mux2.HandleFunc("/ws", wsServer.HandleUpgrade)
	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(cfg.wsPort), Handler: mux2}

	go func() {
		log.Info("websocket listener starting", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("websocket server error", "error", err)
		}
	}()

	log.Info("gateway started", "ws_port", cfg.wsPort, "discover", cfg.discover, "version", version)
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("websocket server shutdown error", "error", err)
	}
	mux.Close()
	log.Info("gateway stopped")
}

// dialStaticAgentWithRetry keeps a single static agent address connected,
// reconnecting with a fixed backoff whenever AgentConn.Run returns.
func dialStaticAgentWithRetry(stop <-chan struct{}, addr string, agents *gateway.AgentTable, mux *gateway.Multiplexer, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) {
	ac := gateway.NewAgentConn(addr, agents, mux, nil)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := ac.Run(stop); err != nil {
			log.Warn("agent connection lost, retrying", "addr", addr, "error", err)
		}
		select {
		case <-stop:
			return
		case <-time.After(3 * time.Second):
		}
	}
}

// dialDiscoveredAgents watches the discovery table and opens an AgentConn
// for every newly seen (host, port) pair, skipping addresses already
// connected.
func dialDiscoveredAgents(stop <-chan struct{}, table *discovery.Table, agents *gateway.AgentTable, mux *gateway.Multiplexer, log interface {
	Info(string, ...any)
	Warn(string, ...any)
}) {
	dialed := make(map[string]bool)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, e := range table.Entries() {
				addr := fmt.Sprintf("%s:%d", e.Host, e.Port)
				if dialed[addr] {
					continue
				}
				dialed[addr] = true
				go dialStaticAgentWithRetry(stop, addr, agents, mux, log)
			}
		}
	}
}
