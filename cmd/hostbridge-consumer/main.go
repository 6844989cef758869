// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/hostbridge/lib/config"
	"github.com/bureau-foundation/hostbridge/lib/consumer"
	"github.com/bureau-foundation/hostbridge/lib/endpoint"
	"github.com/bureau-foundation/hostbridge/lib/process"
	"github.com/bureau-foundation/hostbridge/lib/socket"
	"github.com/bureau-foundation/hostbridge/lib/token"
	"github.com/bureau-foundation/hostbridge/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.LookupEnv); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath     string
	endpoint       string
	encoding       string
	sessionToken   string
	componentToken string
	application    bool
	optional       bool
	named          string
	timeout        time.Duration
	verbose        bool
}

func run(args []string, stdout io.Writer, lookup func(string) (string, bool)) error {
	var opts options
	var showVersion bool

	flagSet := pflag.NewFlagSet("hostbridge-consumer", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "config file, for the endpoint and encoding defaults")
	flagSet.StringVar(&opts.endpoint, "endpoint", "", "responder endpoint (unix:///path or tcp://host:port)")
	flagSet.StringVar(&opts.encoding, "encoding", "", "token encoding: handle or envelope")
	flagSet.StringVar(&opts.sessionToken, "session-token", "", "session token (default: from the CGI environment)")
	flagSet.StringVar(&opts.componentToken, "component-token", "", "component token (default: from the CGI environment)")
	flagSet.BoolVar(&opts.application, "application", false, "resolve from the application-wide container")
	flagSet.BoolVar(&opts.optional, "optional", false, "report absence instead of failing")
	flagSet.StringVar(&opts.named, "named", "", "resolve the registration with this name")
	flagSet.DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-call timeout")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("hostbridge-consumer")
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: hostbridge-consumer [flags] pull|push|resolve|status|inspect [args...]")
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig(opts.configPath, lookup)
	if err != nil {
		return err
	}
	if opts.endpoint == "" {
		opts.endpoint = socket.UnixEndpoint(cfg.Endpoint.SocketPath)
		if cfg.Endpoint.TCPListen != "" {
			opts.endpoint = socket.Endpoint{Network: "tcp", Address: cfg.Endpoint.TCPListen}.String()
		}
	}
	if opts.encoding == "" {
		opts.encoding = cfg.Bridge.Encoding
	}
	mode, err := token.ParseMode(opts.encoding)
	if err != nil {
		return err
	}
	codec, err := token.New(mode, opts.endpoint)
	if err != nil {
		return err
	}

	bridge, err := consumer.New(consumer.Options{
		Codec:          codec,
		SessionField:   cfg.Bridge.SessionHeader,
		ComponentField: cfg.Bridge.ComponentHeader,
		Endpoint:       opts.endpoint,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	source := tokenSource{
		fields: map[string]string{
			cfg.Bridge.SessionHeader:   opts.sessionToken,
			cfg.Bridge.ComponentHeader: opts.componentToken,
		},
		fallback: consumer.EnvSource(lookup),
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()

	command := command{
		opts:        opts,
		bridge:      bridge,
		source:      source,
		application: cfg.Bridge.ApplicationID,
		out:         stdout,
	}
	switch rest[0] {
	case "pull":
		return command.pull(ctx)
	case "push":
		return command.push(ctx, rest[1:])
	case "resolve":
		if len(rest) != 2 {
			return fmt.Errorf("usage: hostbridge-consumer resolve [--application] [--optional|--named NAME] SERVICE")
		}
		return command.resolve(ctx, rest[1])
	case "status":
		return command.status(ctx)
	case "inspect":
		return command.inspect(cfg.Bridge.SessionHeader, cfg.Bridge.ComponentHeader)
	default:
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

// loadConfig reads the config file when one is named, else the
// defaults. Either way only the bridge and endpoint settings matter
// here.
func loadConfig(path string, lookup func(string) (string, bool)) (*config.Config, error) {
	if path == "" {
		path, _ = lookup("HOSTBRIDGE_CONFIG")
	}
	if path == "" {
		cfg := config.Default()
		cfg.ExpandVariables()
		return cfg, nil
	}
	return config.LoadFile(path)
}

// tokenSource prefers tokens given on the command line.
type tokenSource struct {
	fields   map[string]string
	fallback consumer.Source
}

func (s tokenSource) Value(field string) (string, bool) {
	if value := s.fields[field]; value != "" {
		return value, true
	}
	return s.fallback.Value(field)
}

type command struct {
	opts        options
	bridge      *consumer.Bridge
	source      consumer.Source
	application string
	out         io.Writer
}

func (c command) print(value any) error {
	encoder := yaml.NewEncoder(c.out)
	encoder.SetIndent(2)
	if err := encoder.Encode(value); err != nil {
		return err
	}
	return encoder.Close()
}

func (c command) pull(ctx context.Context) error {
	handle, err := c.bridge.ConnectSession(c.source)
	if err != nil {
		return err
	}
	items, err := handle.Pull(ctx)
	if err != nil {
		return err
	}
	return c.print(items)
}

func (c command) push(ctx context.Context, assignments []string) error {
	if len(assignments) == 0 {
		return fmt.Errorf("usage: hostbridge-consumer push KEY=VALUE...")
	}
	items := make(map[string]any, len(assignments))
	for _, assignment := range assignments {
		key, value, ok := strings.Cut(assignment, "=")
		if !ok || key == "" {
			return fmt.Errorf("push: %q is not KEY=VALUE", assignment)
		}
		items[key] = parseValue(value)
	}

	handle, err := c.bridge.ConnectSession(c.source)
	if err != nil {
		return err
	}
	result, err := handle.Push(ctx, items)
	if err != nil {
		return err
	}
	return c.print(map[string]any{"written": result.Written, "skipped": len(result.Skipped)})
}

// parseValue keeps integers and booleans typed so the legacy side sees
// numbers as numbers.
func parseValue(raw string) any {
	if number, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return number
	}
	if flag, err := strconv.ParseBool(raw); err == nil {
		return flag
	}
	return raw
}

func (c command) resolve(ctx context.Context, service string) error {
	var handle *consumer.Handle
	var err error
	if c.opts.application {
		handle, err = c.bridge.ConnectApplication(ctx, c.application)
	} else {
		handle, err = c.bridge.ConnectComponents(c.source)
	}
	if err != nil {
		return err
	}

	switch {
	case c.opts.named != "":
		value, err := handle.ResolveNamed(ctx, c.opts.named, service)
		if err != nil {
			return err
		}
		return c.print(value)
	case c.opts.optional:
		value, found, err := handle.ResolveOptional(ctx, service)
		if err != nil {
			return err
		}
		return c.print(map[string]any{"present": found, "value": value})
	default:
		value, err := handle.Resolve(ctx, service)
		if err != nil {
			return err
		}
		return c.print(value)
	}
}

func (c command) status(ctx context.Context) error {
	target, err := socket.ParseEndpoint(c.opts.endpoint)
	if err != nil {
		return err
	}
	var status endpoint.StatusResponse
	if err := socket.NewClient(target).Call(ctx, endpoint.ActionStatus, nil, &status); err != nil {
		return err
	}
	entries := make([]map[string]any, 0, len(status.Registry))
	for _, entry := range status.Registry {
		entries = append(entries, map[string]any{"id": entry.ID, "published_at": entry.PublishedAt})
	}
	return c.print(map[string]any{
		"live":        status.Live,
		"by_scope":    status.ByScope,
		"outstanding": status.Outstanding,
		"registry":    entries,
	})
}

// inspect prints the envelopes of the session and component tokens
// without contacting the responder.
func (c command) inspect(fields ...string) error {
	printed := 0
	for _, field := range fields {
		raw, ok := c.source.Value(field)
		if !ok || raw == "" {
			continue
		}
		diagnostic, err := token.Inspect(token.Token(raw))
		if err != nil {
			return fmt.Errorf("inspecting %s: %w", field, err)
		}
		fmt.Fprintf(c.out, "%s: %s\n", field, diagnostic)
		printed++
	}
	if printed == 0 {
		return fmt.Errorf("inspect: no envelope tokens present")
	}
	return nil
}
