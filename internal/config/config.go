// Package config loads the adapter's runtime configuration from flat env
// vars, with koanf layering: defaults < optional YAML file < env. The env
// var names map 1:1 onto config keys, so the env transform is the identity
// function.
package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigError is fatal at init: a missing mandatory env var or an invalid
// bind address.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Mode selects whether the adapter pushes its definitions to the control
// plane ("hybrid") or runs purely from local state ("static").
type Mode string

const (
	ModeStatic Mode = "static"
	ModeHybrid Mode = "hybrid"
)

// Config is the process-wide configuration every adapter binary loads,
// plus the HTTP shell's adapter-specific pair.
type Config struct {
	NATSURL           string `koanf:"NATS_URL"`
	NATSBucket        string `koanf:"NATS_BUCKET"`
	GRPCHost          string `koanf:"GRPC_HOST"`
	GRPCPort          int    `koanf:"GRPC_PORT"`
	AquilaURL         string `koanf:"AQUILA_URL"`
	Environment       string `koanf:"ENVIRONMENT"`
	Mode              string `koanf:"MODE"`
	DefinitionPath    string `koanf:"DEFINITION_PATH"`
	WithHealthService bool   `koanf:"WITH_HEALTH_SERVICE"`
	DracoVariant      string `koanf:"DRACO_VARIANT"`
	HTTPServerHost    string `koanf:"HTTP_SERVER_HOST"`
	HTTPServerPort    int    `koanf:"HTTP_SERVER_PORT"`

	// MetricsAddress is where the Prometheus /metrics endpoint listens.
	// Empty disables the endpoint.
	MetricsAddress string `koanf:"METRICS_ADDRESS"`

	// RegistryBackend/RegistryAddress select the registry.Store
	// implementation the binaries wire up ("memory" or "valkey"). The
	// registry runs on its own Valkey connection rather than sharing the
	// bus broker, so it needs its own address.
	RegistryBackend string `koanf:"REGISTRY_BACKEND"`
	RegistryAddress string `koanf:"REGISTRY_ADDRESS"`
}

// Default returns the documented default for every config key that has one.
func Default() Config {
	return Config{
		NATSURL:         "nats://localhost:4222",
		NATSBucket:      "flow_store",
		GRPCHost:        "localhost",
		GRPCPort:        50051,
		AquilaURL:       "grpc://localhost:50051",
		Mode:            string(ModeHybrid),
		DefinitionPath:  "./definition",
		HTTPServerHost:  "localhost",
		HTTPServerPort:  8080,
		MetricsAddress:  "localhost:9100",
		RegistryBackend: "memory",
		RegistryAddress: "localhost:6379",
	}
}

// Loader hydrates Config from defaults, an optional YAML file, and env
// vars, in that precedence order (env wins).
type Loader struct {
	file string
}

func NewLoader(file string) *Loader {
	return &Loader{file: file}
}

// Load assembles and validates the effective configuration.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	select {
	case <-ctx.Done():
		return Config{}, ctx.Err()
	default:
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(Default()), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if l.file != "" {
		if _, err := os.Stat(l.file); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: stat %s: %w", l.file, err)
			}
		} else if err := k.Load(file.Provider(l.file), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", l.file, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that mandatory fields are present and bind addresses are
// well-formed.
func (c Config) Validate() error {
	if c.NATSURL == "" {
		return &ConfigError{Field: "NATS_URL", Reason: "must not be empty"}
	}
	if c.GRPCHost == "" {
		return &ConfigError{Field: "GRPC_HOST", Reason: "must not be empty"}
	}
	if c.GRPCPort <= 0 || c.GRPCPort > 65535 {
		return &ConfigError{Field: "GRPC_PORT", Reason: "must be a valid TCP port"}
	}
	if c.Mode != string(ModeStatic) && c.Mode != string(ModeHybrid) {
		return &ConfigError{Field: "MODE", Reason: "must be \"static\" or \"hybrid\""}
	}
	if _, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(c.GRPCHost, strconv.Itoa(c.GRPCPort))); err != nil {
		return &ConfigError{Field: "GRPC_HOST/GRPC_PORT", Reason: "invalid bind address: " + err.Error()}
	}
	if c.HTTPServerHost != "" && c.HTTPServerPort != 0 {
		if _, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(c.HTTPServerHost, strconv.Itoa(c.HTTPServerPort))); err != nil {
			return &ConfigError{Field: "HTTP_SERVER_HOST/HTTP_SERVER_PORT", Reason: "invalid bind address: " + err.Error()}
		}
	}
	if c.MetricsAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", c.MetricsAddress); err != nil {
			return &ConfigError{Field: "METRICS_ADDRESS", Reason: "invalid bind address: " + err.Error()}
		}
	}
	return nil
}

func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"NATS_URL":            cfg.NATSURL,
		"NATS_BUCKET":         cfg.NATSBucket,
		"GRPC_HOST":           cfg.GRPCHost,
		"GRPC_PORT":           cfg.GRPCPort,
		"AQUILA_URL":          cfg.AquilaURL,
		"ENVIRONMENT":         cfg.Environment,
		"MODE":                cfg.Mode,
		"DEFINITION_PATH":     cfg.DefinitionPath,
		"WITH_HEALTH_SERVICE": cfg.WithHealthService,
		"DRACO_VARIANT":       cfg.DracoVariant,
		"HTTP_SERVER_HOST":    cfg.HTTPServerHost,
		"HTTP_SERVER_PORT":    cfg.HTTPServerPort,
		"METRICS_ADDRESS":     cfg.MetricsAddress,
		"REGISTRY_BACKEND":    cfg.RegistryBackend,
		"REGISTRY_ADDRESS":    cfg.RegistryAddress,
	}
}
