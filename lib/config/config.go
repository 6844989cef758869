// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Token encodings accepted by bridge.encoding.
const (
	EncodingHandle   = "handle"
	EncodingEnvelope = "envelope"
)

// Config is the master configuration for both hostbridge binaries.
type Config struct {
	Environment Environment `yaml:"environment"`

	Bridge   BridgeConfig   `yaml:"bridge"`
	Endpoint EndpointConfig `yaml:"endpoint"`
	HTTP     HTTPConfig     `yaml:"http"`
	Session  SessionConfig  `yaml:"session"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides contains the fields that can be overridden per environment.
type Overrides struct {
	Bridge   *BridgeOverrides `yaml:"bridge,omitempty"`
	Endpoint *EndpointConfig  `yaml:"endpoint,omitempty"`
	HTTP     *HTTPConfig      `yaml:"http,omitempty"`
	Session  *SessionConfig   `yaml:"session,omitempty"`
}

// BridgeConfig configures the request lifecycle adapter and token
// encoding.
type BridgeConfig struct {
	// Enabled turns the legacy bridge on. When false every request is
	// served without minting proxies.
	Enabled bool `yaml:"enabled"`

	// Prefix is prepended to every key written through a store proxy.
	// Default: ASP_
	Prefix string `yaml:"prefix"`

	// Encoding selects the token codec: "handle" or "envelope".
	// Chosen once at startup.
	Encoding string `yaml:"encoding"`

	// SessionHeader and ComponentHeader name the side-channel headers
	// carrying the two per-request tokens.
	SessionHeader   string `yaml:"session_header"`
	ComponentHeader string `yaml:"component_header"`

	// LegacyExtensions are the path extensions classified as legacy.
	// Default: [.asp]
	LegacyExtensions []string `yaml:"legacy_extensions"`

	// ApplicationID is the registry id the application-wide container
	// proxy is published under.
	ApplicationID string `yaml:"application_id"`
}

// BridgeOverrides uses a pointer for Enabled so an override can turn
// the bridge off as well as on.
type BridgeOverrides struct {
	Enabled          *bool    `yaml:"enabled,omitempty"`
	Prefix           string   `yaml:"prefix,omitempty"`
	Encoding         string   `yaml:"encoding,omitempty"`
	SessionHeader    string   `yaml:"session_header,omitempty"`
	ComponentHeader  string   `yaml:"component_header,omitempty"`
	LegacyExtensions []string `yaml:"legacy_extensions,omitempty"`
	ApplicationID    string   `yaml:"application_id,omitempty"`
}

// EndpointConfig configures the boundary call surface.
type EndpointConfig struct {
	// SocketPath is the unix socket the responder serves boundary calls on.
	// Default: ${HOSTBRIDGE_RUNTIME}/endpoint.sock
	SocketPath string `yaml:"socket_path"`

	// TCPListen, when set, exposes the socket on a TCP address through
	// the bridge forwarder. Envelope tokens then carry this address.
	TCPListen string `yaml:"tcp_listen"`
}

// HTTPConfig configures the responder's HTTP front end.
type HTTPConfig struct {
	// Listen is the address the responder serves HTTP on.
	Listen string `yaml:"listen"`

	// LegacyUpstream is the base URL legacy requests are forwarded to.
	LegacyUpstream string `yaml:"legacy_upstream"`

	// MetricsPath is where Prometheus metrics are served. Empty
	// disables the metrics handler.
	MetricsPath string `yaml:"metrics_path"`
}

// SessionConfig configures the responder session store.
type SessionConfig struct {
	CookieName string `yaml:"cookie_name"`

	// IdleTimeout is a Go duration string. Default: 20m
	IdleTimeout string `yaml:"idle_timeout"`
}

// IdleTimeoutDuration parses IdleTimeout. Validate has already
// rejected unparsable values for loaded configs.
func (s SessionConfig) IdleTimeoutDuration() time.Duration {
	duration, err := time.ParseDuration(s.IdleTimeout)
	if err != nil {
		return 20 * time.Minute
	}
	return duration
}

// Default returns the default configuration, used as the base before
// the config file is applied.
func Default() *Config {
	return &Config{
		Environment: Development,
		Bridge: BridgeConfig{
			Enabled:          true,
			Prefix:           "ASP_",
			Encoding:         EncodingHandle,
			SessionHeader:    "Hostbridge-Session-Ref",
			ComponentHeader:  "Hostbridge-Component-Ref",
			LegacyExtensions: []string{".asp"},
			ApplicationID:    "default",
		},
		Endpoint: EndpointConfig{
			SocketPath: "${HOSTBRIDGE_RUNTIME}/endpoint.sock",
		},
		HTTP: HTTPConfig{
			Listen:         "127.0.0.1:8640",
			LegacyUpstream: "http://127.0.0.1:8641",
			MetricsPath:    "/metrics",
		},
		Session: SessionConfig{
			CookieName:  "HOSTBRIDGE_SESSION",
			IdleTimeout: "20m",
		},
	}
}

// Load loads configuration from the file named by HOSTBRIDGE_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv("HOSTBRIDGE_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("HOSTBRIDGE_CONFIG environment variable not set; " +
			"set it to the path of your hostbridge.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the environment
// section, and expands variables. The result is not validated; call
// [Config.Validate].
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := cfg.parse(path, data); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.ExpandVariables()
	return cfg, nil
}

// parse merges data into c. JSON is a subset of YAML, so JSONC files
// are stripped to plain JSON and then go through the same decoder.
func (c *Config) parse(path string, data []byte) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides == nil {
		return
	}

	if bridge := overrides.Bridge; bridge != nil {
		if bridge.Enabled != nil {
			c.Bridge.Enabled = *bridge.Enabled
		}
		if bridge.Prefix != "" {
			c.Bridge.Prefix = bridge.Prefix
		}
		if bridge.Encoding != "" {
			c.Bridge.Encoding = bridge.Encoding
		}
		if bridge.SessionHeader != "" {
			c.Bridge.SessionHeader = bridge.SessionHeader
		}
		if bridge.ComponentHeader != "" {
			c.Bridge.ComponentHeader = bridge.ComponentHeader
		}
		if len(bridge.LegacyExtensions) > 0 {
			c.Bridge.LegacyExtensions = bridge.LegacyExtensions
		}
		if bridge.ApplicationID != "" {
			c.Bridge.ApplicationID = bridge.ApplicationID
		}
	}

	if endpoint := overrides.Endpoint; endpoint != nil {
		if endpoint.SocketPath != "" {
			c.Endpoint.SocketPath = endpoint.SocketPath
		}
		if endpoint.TCPListen != "" {
			c.Endpoint.TCPListen = endpoint.TCPListen
		}
	}

	if http := overrides.HTTP; http != nil {
		if http.Listen != "" {
			c.HTTP.Listen = http.Listen
		}
		if http.LegacyUpstream != "" {
			c.HTTP.LegacyUpstream = http.LegacyUpstream
		}
		if http.MetricsPath != "" {
			c.HTTP.MetricsPath = http.MetricsPath
		}
	}

	if session := overrides.Session; session != nil {
		if session.CookieName != "" {
			c.Session.CookieName = session.CookieName
		}
		if session.IdleTimeout != "" {
			c.Session.IdleTimeout = session.IdleTimeout
		}
	}
}

// RuntimeDir is the directory ${HOSTBRIDGE_RUNTIME} expands to when
// the variable is not set in the environment.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "hostbridge")
	}
	return filepath.Join(os.TempDir(), "hostbridge")
}

// ExpandVariables expands ${VAR} patterns in path and address fields.
// LoadFile calls it; binaries running on [Default] call it themselves.
func (c *Config) ExpandVariables() {
	vars := map[string]string{
		"HOSTBRIDGE_RUNTIME": os.Getenv("HOSTBRIDGE_RUNTIME"),
		"HOME":               os.Getenv("HOME"),
	}
	if vars["HOSTBRIDGE_RUNTIME"] == "" {
		vars["HOSTBRIDGE_RUNTIME"] = RuntimeDir()
	}

	c.Endpoint.SocketPath = expandVars(c.Endpoint.SocketPath, vars)
	c.Endpoint.TCPListen = expandVars(c.Endpoint.TCPListen, vars)
	c.HTTP.Listen = expandVars(c.HTTP.Listen, vars)
	c.HTTP.LegacyUpstream = expandVars(c.HTTP.LegacyUpstream, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking vars
// before the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}

	switch c.Bridge.Encoding {
	case EncodingHandle, EncodingEnvelope:
	default:
		errs = append(errs, fmt.Errorf("bridge.encoding must be %q or %q, got %q",
			EncodingHandle, EncodingEnvelope, c.Bridge.Encoding))
	}
	if c.Bridge.SessionHeader == "" {
		errs = append(errs, errors.New("bridge.session_header is required"))
	}
	if c.Bridge.ComponentHeader == "" {
		errs = append(errs, errors.New("bridge.component_header is required"))
	}
	if strings.EqualFold(c.Bridge.SessionHeader, c.Bridge.ComponentHeader) && c.Bridge.SessionHeader != "" {
		errs = append(errs, errors.New("bridge.session_header and bridge.component_header must differ"))
	}
	for _, extension := range c.Bridge.LegacyExtensions {
		if !strings.HasPrefix(extension, ".") {
			errs = append(errs, fmt.Errorf("bridge.legacy_extensions: %q must start with a dot", extension))
		}
	}
	if c.Bridge.ApplicationID == "" {
		errs = append(errs, errors.New("bridge.application_id is required"))
	}

	if c.Endpoint.SocketPath == "" {
		errs = append(errs, errors.New("endpoint.socket_path is required"))
	}
	if c.HTTP.Listen == "" {
		errs = append(errs, errors.New("http.listen is required"))
	}
	if c.HTTP.MetricsPath != "" && !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
		errs = append(errs, fmt.Errorf("http.metrics_path %q must start with /", c.HTTP.MetricsPath))
	}

	if c.Session.CookieName == "" {
		errs = append(errs, errors.New("session.cookie_name is required"))
	}
	if duration, err := time.ParseDuration(c.Session.IdleTimeout); err != nil {
		errs = append(errs, fmt.Errorf("session.idle_timeout: %w", err))
	} else if duration <= 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout must be positive, got %s", duration))
	}

	return errors.Join(errs...)
}

// EnsureRuntimeDir creates the directory holding the endpoint socket.
func (c *Config) EnsureRuntimeDir() error {
	directory := filepath.Dir(c.Endpoint.SocketPath)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("config: creating runtime directory %s: %w", directory, err)
	}
	return nil
}
