// execledger is the interactive read-only SQL console for an
// execledger database.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/execledger/execledger/internal/config"
	"github.com/execledger/execledger/internal/console"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	dbPath := flag.String("db", "", "database path (overrides config)")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("execledger %s\n", Version)
		return
	}

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	path := cfg.DatabasePath()
	if *dbPath != "" {
		path = *dbPath
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "database %s: %v\n", path, err)
		os.Exit(1)
	}

	c, err := console.New(path, cfg.Monitor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if err := c.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
