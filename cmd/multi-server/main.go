// Command multi-server is a thin demo entry point for the SensCord
// multi-server core: it wires a StaticFacade (loaded from an optional
// JSON/YAML file, or a small built-in default) and an in-memory sdkcore.Core
// stand-in into a running server.Server. The real SDK Core, the XML config
// parser, and the signal-registration/service-discovery glue a production
// deployment needs are external collaborators out of this module's scope
// (§1); this binary exists so the core can be exercised end to end.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/senscord/multi-server/internal/config"
	"github.com/senscord/multi-server/internal/hooks"
	"github.com/senscord/multi-server/internal/logger"
	"github.com/senscord/multi-server/internal/sdkcore"
	"github.com/senscord/multi-server/internal/sdkcore/fake"
	srv "github.com/senscord/multi-server/internal/server"
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
		fmt.Printf("Warning: invalid log level, using default: %v\n", err)
	}
	log := logger.Logger().With("component", "cli")

	configPath, err := resolveConfigPath(cfg.configPath)
	if err != nil {
		log.Error("failed to resolve config", "error", err)
		os.Exit(1)
	}

	facade, err := loadFacade(configPath)
	if err != nil {
		log.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	var registerer = promRegisterer(cfg.metricsAddr, log)

	server, err := srv.New(srv.Config{
		Core:       defaultCore(),
		Facade:     facade,
		Registerer: registerer,
		ShmBaseDir: cfg.shmBaseDir,
		Log:        log,
		HooksConfig: hooks.Config{
			Timeout:     cfg.hookTimeout,
			Concurrency: cfg.hookConcurrency,
			StdioFormat: cfg.hookStdioFormat,
		},
	})
	if err != nil {
		log.Error("failed to assemble server", "error", err)
		os.Exit(1)
	}

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	log.Info("server started", "addrs", server.Addrs(), "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	done := make(chan struct{})
	go func() {
		server.Stop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-time.After(5 * time.Second):
		log.Error("forced exit after shutdown timeout")
		os.Exit(-1)
	}
}

// loadFacade reads configPath if non-empty, else returns a minimal default
// facade (client disabled, one primary listener on :1930) so the binary is
// runnable with zero configuration for local smoke-testing.
func loadFacade(configPath string) (*config.StaticFacade, error) {
	if configPath == "" {
		facade := config.NewStaticFacade(false)
		facade.AddListener(config.ListenerEntry{ConnectionKey: "default", PrimaryAddress: ":1930"})
		return facade, nil
	}
	return config.LoadViper(configPath)
}

// defaultCore stands in for the real SDK Core collaborator (§1: "opaque: it
// produces frames, accepts properties, exposes versions and a stream
// catalog"), seeded with a couple of synthetic streams so GetStreamList/
// Open have something to resolve against out of the box.
func defaultCore() sdkcore.Core {
	return fake.New(map[string]string{
		"pseudo_image_stream.0": "image_stream",
		"pseudo_image_stream.1": "image_stream",
	}, sdkcore.VersionInfo{
		Name:  "senscord-multi-server",
		Major: 1,
	})
}

// promRegisterer starts a /metrics HTTP endpoint on addr (when non-empty)
// and returns the registry to wire into server.Config; an empty addr
// disables metrics entirely (server.New treats a nil Registerer as a
// no-op), matching the teacher's opt-in approach to auxiliary surfaces.
func promRegisterer(addr string, log interface {
	Error(msg string, args ...any)
	Info(msg string, args ...any)
}) prometheus.Registerer {
	if addr == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		log.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server exited", "error", err)
		}
	}()
	return reg
}
