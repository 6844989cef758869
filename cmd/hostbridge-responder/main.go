// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hostbridge/lib/config"
	"github.com/bureau-foundation/hostbridge/lib/process"
	"github.com/bureau-foundation/hostbridge/lib/responder"
	"github.com/bureau-foundation/hostbridge/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listen      string
		socketPath  string
		upstream    string
		encoding    string
		verbose     bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("hostbridge-responder", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config file (default: $HOSTBRIDGE_CONFIG, else built-in defaults)")
	flagSet.StringVar(&listen, "listen", "", "HTTP listen address (overrides http.listen)")
	flagSet.StringVar(&socketPath, "socket", "", "endpoint socket path (overrides endpoint.socket_path)")
	flagSet.StringVar(&upstream, "upstream", "", "legacy upstream URL (overrides http.legacy_upstream)")
	flagSet.StringVar(&encoding, "encoding", "", "token encoding: handle or envelope (overrides bridge.encoding)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if showVersion {
		version.Print("hostbridge-responder")
		return nil
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.HTTP.Listen = listen
	}
	if socketPath != "" {
		cfg.Endpoint.SocketPath = socketPath
	}
	if upstream != "" {
		cfg.HTTP.LegacyUpstream = upstream
	}
	if encoding != "" {
		cfg.Bridge.Encoding = encoding
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	services, err := buildServices(cfg, logger)
	if err != nil {
		return fmt.Errorf("building services: %w", err)
	}

	host, err := responder.New(responder.Options{
		Config:    cfg,
		Container: services,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	logger.Info("starting hostbridge-responder",
		"version", version.Info(),
		"environment", cfg.Environment,
		"upstream", cfg.HTTP.LegacyUpstream,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return host.Run(ctx)
}

// loadConfig reads path, then $HOSTBRIDGE_CONFIG, then falls back to
// the defaults.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("HOSTBRIDGE_CONFIG")
	}
	if path == "" {
		cfg := config.Default()
		cfg.ExpandVariables()
		return cfg, nil
	}
	return config.LoadFile(path)
}
