package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

// cliConfig holds user-supplied flag values prior to translation into
// server.Config, mirroring the teacher's cliConfig/parseFlags split so
// main.go can validate and map without touching flag.FlagSet directly.
type cliConfig struct {
	configPath      string
	logLevel        string
	shmBaseDir      string
	metricsAddr     string
	showVersion     bool
	hookStdioFormat string
	hookTimeout     string
	hookConcurrency int
}

// parseFlags mirrors the reference server's `server [-f config_path]`
// surface (§6), adding the ambient flags (log level, metrics, hooks) the
// teacher's own binary exposes for its own domain.
func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("multi-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	fs.StringVar(&cfg.configPath, "f", "", "path to a JSON/YAML config file (listeners + stream settings); when empty, senscord_server.{json,yaml,yml} is searched for under SENSCORD_FILE_PATH")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.shmBaseDir, "shm-dir", "", "base directory for named shared-memory regions (default: platform temp dir)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (empty disables metrics)")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")
	fs.StringVar(&cfg.hookStdioFormat, "hook-stdio-format", "", "Enable structured stdio output: json|env (empty=disabled)")
	fs.StringVar(&cfg.hookTimeout, "hook-timeout", "30s", "Timeout for hook execution")
	fs.IntVar(&cfg.hookConcurrency, "hook-concurrency", 10, "Maximum concurrent hook executions")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid -log-level %q", cfg.logLevel)
	}
	if cfg.hookStdioFormat != "" && cfg.hookStdioFormat != "json" && cfg.hookStdioFormat != "env" {
		return nil, fmt.Errorf("invalid -hook-stdio-format %q, must be 'json' or 'env'", cfg.hookStdioFormat)
	}
	if cfg.hookConcurrency < 1 || cfg.hookConcurrency > 100 {
		return nil, errors.New("-hook-concurrency must be between 1 and 100")
	}

	return cfg, nil
}
