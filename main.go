package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/envgraph/engine"
)

func main() {
	cfgPath := flag.String("config", "config.toml", "path to the TOML configuration")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "envgraph: %+v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	e, err := engine.Boot(cfgPath)
	if err != nil {
		return err
	}
	defer e.Shutdown()

	if err := e.Initialize(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	// Run pumps window events, so it stays on the main goroutine.
	return e.Run(ctx)
}
