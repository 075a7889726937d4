package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ryandielhenn/zcs/discovery"
	"github.com/ryandielhenn/zcs/internal/config"
	"github.com/ryandielhenn/zcs/internal/logging"
	"github.com/ryandielhenn/zcs/internal/telemetry"
	"github.com/ryandielhenn/zcs/pkg/httpapi"
	"github.com/ryandielhenn/zcs/pkg/registry"
	"github.com/ryandielhenn/zcs/pkg/transport"
	"github.com/ryandielhenn/zcs/pkg/zcs"
)

// Set with -ldflags "-X main.version=... -X main.gitSHA=...".
var (
	version = "dev"
	gitSHA  = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	envFile := flag.String("env", "", "dotenv file to load before the environment (default .env)")
	flag.Parse()

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "zcsd:", err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger(logging.Config{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
		Output: zapcore.Lock(os.Stderr),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "zcsd:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engineCfg := cfg.Engine()
	engineCfg.Opener = transport.Multicast{Interface: cfg.Interface}
	engineCfg.Logger = logger

	// 1. Optional etcd mirror of the live view
	if len(cfg.EtcdEndpoints) > 0 {
		logger.Info("creating etcd client", zap.Strings("endpoints", cfg.EtcdEndpoints))
		cli, err := discovery.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			return fmt.Errorf("etcd client: %w", err)
		}
		defer cli.Close()
		engineCfg.Observers = append(engineCfg.Observers, discovery.NewMirror(cli, cfg.EtcdPrefix, cfg.EtcdTTL, logger))
	}

	// 2. Protocol engine
	role := cfg.EngineRole()
	engine := zcs.New(engineCfg)
	if err := engine.Init(ctx, role); err != nil {
		return err
	}
	if cfg.Name != "" {
		if err := engine.Start(ctx, cfg.Name, cfg.NodeAttributes()); err != nil {
			_ = engine.Close(context.Background())
			return err
		}
	}
	logger.Info("zcsd running",
		zap.Stringer("role", role),
		zap.String("node", cfg.Name),
		zap.Duration("detection_latency", engineCfg.DetectionLatency()),
	)

	// 3. Admin HTTP API
	var api *http.Server
	apiErr := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		e := httpapi.NewServer(engine, logger).NewEcho()
		api = &http.Server{Addr: cfg.HTTPAddr, Handler: e, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("admin API listening", zap.String("addr", cfg.HTTPAddr))
			if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				apiErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("signal received, shutting down")
	case <-engine.Done():
		runErr = errors.New("engine stopped unexpectedly")
	case err := <-apiErr:
		runErr = fmt.Errorf("admin API: %w", err)
	}

	// 4. Graceful shutdown: HTTP first, then the engine
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if api != nil {
		if err := api.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin API shutdown", zap.Error(err))
		}
	}
	if err := engine.Close(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}

	if role == zcs.Discoverer {
		report(os.Stdout, engine.Nodes(), engine.Log())
	}
	return runErr
}

func report(w io.Writer, nodes []registry.Node, log []registry.LogEntry) {
	fmt.Fprintf(w, "%d known nodes\n", len(nodes))
	for _, n := range nodes {
		fmt.Fprintf(w, "  %-20s %-4s", n.Name, n.Status)
		for _, a := range n.Attributes {
			fmt.Fprintf(w, " %s=%s", a.Name, a.Value)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "%d log entries\n", len(log))
	for _, e := range log {
		fmt.Fprintf(w, "  %s  %s\n", e.At.Format(time.RFC3339), e)
	}
}
