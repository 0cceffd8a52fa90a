// execledgerd is the execution telemetry store daemon.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/execledger/execledger/internal/config"
	"github.com/execledger/execledger/internal/logging"
	"github.com/execledger/execledger/internal/telemetry"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dbPath := flag.String("db", "", "database path (overrides config)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("execledgerd %s\n", Version)
		return
	}

	// Load config; a missing file falls back to defaults so the daemon
	// can run with nothing but flags and EXECLEDGER_* env overrides.
	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// CLI overrides
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log level: %v\n", err)
		os.Exit(1)
	}
	logging.Init(level, cfg.Logging.JSON)

	logging.Info("execledgerd starting", "version", Version, "config", *cfgPath)

	svc, err := telemetry.New(cfg)
	if err != nil {
		logging.Error("create service", "error", err)
		os.Exit(1)
	}

	if err := svc.Start(); err != nil {
		logging.Error("start service", "error", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig

	logging.Info("shutting down", "signal", s.String())

	if err := svc.Stop(); err != nil {
		logging.Error("stop service", "error", err)
		os.Exit(1)
	}
}
