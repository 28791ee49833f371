package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sothis/remote-agent/internal/agent"
	"github.com/sothis/remote-agent/internal/bus"
	"github.com/sothis/remote-agent/internal/cancel"
	"github.com/sothis/remote-agent/internal/discovery"
	"github.com/sothis/remote-agent/internal/hal"
	"github.com/sothis/remote-agent/internal/logger"
	"github.com/sothis/remote-agent/internal/metrics"
	"github.com/sothis/remote-agent/internal/session"
	"github.com/sothis/remote-agent/internal/streamer"
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
	log := logger.Logger().With("component", "agent")

	metrics.StartHTTP(cfg.metricsAddr, log)
	metrics.SetReadinessFunc(func() bool { return true })

	monitorBus := bus.New(log.With("bus", "monitor"))
	webcamBus := bus.New(log.With("bus", "webcam"))

	// Real screen/camera capture pipes through an external encoder process
	// (ffmpeg or a platform-specific grabber). Both sessions invoke ffmpeg;
	// Start() succeeds either way, and the worker reports an
	// ExternalToolMissingError when ffmpeg is not on PATH.
	monitorSession := session.New(streamer.NewExecStreamer("ffmpeg", "-f", "x11grab", "-i", ":0", "-f", "h264", "-"), monitorBus, log.With("stream", "monitor"))
	webcamSession := session.New(streamer.NewExecStreamer("ffmpeg", "-f", "v4l2", "-i", "/dev/video0", "-f", "h264", "-"), webcamBus, log.With("stream", "webcam"))

	// Platform HAL backends (uinput/evdev/XTest input injection, .desktop
	// app enumeration, OS process/power control) are out of this module's
	// scope (see hal package docs); the deterministic in-memory fakes are
	// the only implementations this binary ships, so every HAL-backed
	// command responds from fake state rather than touching the host.
	dispatcher := agent.NewDispatcher(log.With("component", "dispatcher"))
	dispatcher.MonitorSession = monitorSession
	dispatcher.MonitorBus = monitorBus
	dispatcher.WebcamSession = webcamSession
	dispatcher.WebcamBus = webcamBus
	dispatcher.Input = &hal.FakeInputInjector{}
	dispatcher.Apps = hal.NewFakeAppLister()
	dispatcher.Processes = hal.NewFakeProcessLister()
	dispatcher.Power = &hal.FakePowerController{}
	dispatcher.KeyloggerFactory = func() hal.Keylogger { return hal.NewFakeKeylogger() }

	srv, err := agent.Listen(":"+strconv.Itoa(cfg.port), dispatcher, log.With("component", "control"))
	if err != nil {
		log.Error("failed to bind control port", "error", err, "port", cfg.port)
		os.Exit(1)
	}

	announcer := discovery.NewAnnouncer(discovery.Packet{
		Magic:          discovery.MagicGate,
		Version:        discovery.Version,
		ServicePort:    uint32(cfg.port),
		ServiceName:    "CoreAgent",
		AdvertisedHost: cfg.advertise,
	}, log.With("component", "discovery"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	announceCancel := cancel.NewSource()
	go func() {
		<-ctx.Done()
		announceCancel.Cancel()
	}()
	go func() {
		if err := announcer.Run(announceCancel.Token()); err != nil {
			log.Error("discovery announcer stopped", "error", err)
		}
	}()

	go func() {
		if err := srv.Serve(); err != nil {
			log.Error("agent server error", "error", err)
		}
	}()

	log.Info("agent started", "port", cfg.port, "version", version)
	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	done := make(chan struct{})
	go func() {
		monitorSession.Stop()
		webcamSession.Stop()
		_ = srv.Close()
		close(done)
	}()

	select {
	case <-done:
		log.Info("agent stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
