package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/payrouter/internal/config"
	"github.com/danmuck/payrouter/internal/logging"
)

func main() {
	configPath := flag.String("config", os.Getenv("PAYROUTER_CONFIG"), "path to payrouter TOML config (optional)")
	flag.Parse()

	logging.ConfigureRuntime("payrouter")
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "payrouter: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "payrouter: %v\n", err)
		os.Exit(1)
	}
}
