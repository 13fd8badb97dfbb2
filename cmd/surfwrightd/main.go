// Command surfwrightd is the SurfWright daemon: it owns the State Store,
// Session Runtime Pool, Lane Scheduler, and Worker Orchestrator for one
// agent scope, and serves them over the loopback Daemon Transport until
// idle timeout or signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"surfwright/internal/config"
	"surfwright/internal/daemontransport"
	"surfwright/internal/diagnostics"
	"surfwright/internal/lane"
	"surfwright/internal/logging"
	"surfwright/internal/runtimepool"
	"surfwright/internal/state"
	"surfwright/internal/types"
	"surfwright/internal/verbs"
	"surfwright/internal/worker"
)

const productVersion = "0.1.0"

func main() {
	var (
		configPath = flag.String("config", "", "config YAML path")
		stateDir   = flag.String("state-dir", "", "explicit state root override")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "surfwrightd: load config: %v\n", err)
		os.Exit(1)
	}
	if *stateDir != "" {
		cfg.StateDir = *stateDir
	}

	stateRoot, err := cfg.StateRoot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "surfwrightd: resolve state root: %v\n", err)
		os.Exit(1)
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = filepath.Join(stateRoot, "diagnostics", "daemon.log")
	}

	logger, err := logging.New(cfg.LoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "surfwrightd: build logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(logger)
	defer logger.Sync()

	store, err := state.Open(stateRoot)
	if err != nil {
		logger.Fatal("open state store", zap.Error(err))
	}

	sink, err := diagnostics.NewSink(stateRoot)
	if err != nil {
		logger.Fatal("open diagnostics sink", zap.Error(err))
	}
	metrics := diagnostics.Global()

	hub := diagnostics.NewHub()
	sink.AttachHub(hub)
	debugMux := http.NewServeMux()
	debugMux.Handle("/stream", hub)
	debugMux.Handle("/metrics", promhttp.Handler())
	debugServer := &http.Server{Addr: "127.0.0.1:0", Handler: debugMux}
	debugLn, err := net.Listen("tcp", debugServer.Addr)
	if err != nil {
		logger.Warn("debug listener unavailable, diagnostics stream disabled", zap.Error(err))
	} else {
		go debugServer.Serve(debugLn)
		defer debugServer.Close()
		logger.Info("diagnostics stream listening", zap.String("addr", debugLn.Addr().String()))
	}

	pool := runtimepool.New(cfg.RuntimePoolConfig(), metrics, sink)
	scheduler := lane.New(cfg.LaneSchedulerConfig(), metrics)
	orchestrator := worker.New(worker.DefaultConfig(), scheduler, pool, metrics, sink)

	registry := verbs.BuildContractRegistry("surfwright", productVersion)
	verbs.Wire(orchestrator, store, registry)

	token, err := daemontransport.GenerateToken()
	if err != nil {
		logger.Fatal("generate daemon token", zap.Error(err))
	}

	server := daemontransport.New(cfg.DaemonTransportConfig(), token, orchestrator.Dispatch)
	port, err := server.Listen()
	if err != nil {
		logger.Fatal("listen on loopback", zap.Error(err))
	}

	meta := types.DaemonMeta{
		PID:       os.Getpid(),
		Host:      "127.0.0.1",
		Port:      port,
		Token:     token,
		StartedAt: time.Now(),
	}
	if err := daemontransport.WriteMeta(stateRoot, meta); err != nil {
		logger.Fatal("write daemon meta", zap.Error(err))
	}
	defer daemontransport.RemoveMeta(stateRoot)

	reloader := config.NewReloader(*configPath, logger)
	reloader.OnChange(func(next *config.Config) {
		logger.Info("config reloaded", zap.String("level", next.Logging.Level))
	})
	if *configPath != "" {
		if err := reloader.Start(); err != nil {
			logger.Warn("config reloader failed to start", zap.Error(err))
		} else {
			defer reloader.Stop()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	logger.Info("daemon listening",
		zap.Int("port", port),
		zap.String("stateRoot", stateRoot),
		zap.String("version", productVersion),
	)

	if err := server.Serve(ctx); err != nil {
		logger.Error("transport serve exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("daemon stopped")
}
