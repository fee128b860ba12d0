// Command draco-cron boots the Cron adapter shell on top of the shared
// runtime core; see cmd/draco-rest/main.go for the wiring this mirrors.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/code0-tech/draco-adapter/internal/adapter/cron"
	"github.com/code0-tech/draco-adapter/internal/bus/mqttbus"
	"github.com/code0-tech/draco-adapter/internal/config"
	"github.com/code0-tech/draco-adapter/internal/controlplane"
	"github.com/code0-tech/draco-adapter/internal/registry"
	"github.com/code0-tech/draco-adapter/internal/registry/memory"
	"github.com/code0-tech/draco-adapter/internal/registry/valkey"
	"github.com/code0-tech/draco-adapter/internal/runtime"
	"github.com/code0-tech/draco-adapter/internal/wire"
)

func main() {
	var configFile = flag.String("config", "", "path to adapter configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.NewLoader(*configFile).Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	store, closeStore, err := buildRegistry(cfg)
	if err != nil {
		log.Fatalf("failed to build registry store: %v", err)
	}
	defer closeStore()

	b, err := mqttbus.New(mqttbus.Config{
		BrokerURL:      cfg.NATSURL,
		ClientID:       "draco-cron",
		DefaultTimeout: 10 * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to connect bus: %v", err)
	}
	defer b.Close()

	cp := buildControlPlane(cfg)
	if closer, ok := cp.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	defs := loadDefinitions(cfg)

	opts := runtime.Options{
		Adapter:      cron.New(),
		ConfigFile:   *configFile,
		Registry:     store,
		DecodeFlow:   wire.DecodeValidationFlow,
		Bus:          b,
		ControlPlane: cp,
		Definitions:  defs,
	}

	rt, err := runtime.New(opts)
	if err != nil {
		log.Fatalf("failed to construct runtime: %v", err)
	}

	if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("draco-cron terminated with error: %v", err)
		os.Exit(1)
	}
}

func buildRegistry(cfg config.Config) (registry.Store, func(), error) {
	switch strings.ToLower(strings.TrimSpace(cfg.RegistryBackend)) {
	case "", "memory":
		return memory.New(), func() {}, nil
	case "valkey":
		store, err := valkey.New(valkey.Config{Address: cfg.RegistryAddress})
		if err != nil {
			return nil, func() {}, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		slog.Warn("unsupported registry backend, defaulting to memory", slog.String("backend", cfg.RegistryBackend))
		return memory.New(), func() {}, nil
	}
}

func buildControlPlane(cfg config.Config) controlplane.Pusher {
	if cfg.Mode == string(config.ModeStatic) {
		return controlplane.Noop{}
	}
	client, err := controlplane.Dial(cfg.AquilaURL, 10*time.Second)
	if err != nil {
		slog.Warn("control-plane dial failed, falling back to noop", slog.Any("error", err))
		return controlplane.Noop{}
	}
	return client
}

func loadDefinitions(cfg config.Config) controlplane.Definitions {
	if cfg.DefinitionPath == "" {
		return controlplane.Definitions{}
	}
	bundle, err := controlplane.LoadBundle(cfg.DefinitionPath)
	if err != nil {
		slog.Warn("failed to load local definitions", slog.String("path", cfg.DefinitionPath), slog.Any("error", err))
		return controlplane.Definitions{}
	}
	for _, s := range bundle.Skipped {
		slog.Warn("skipped duplicate definition",
			slog.String("kind", s.Kind), slog.String("identifier", s.Identifier),
			slog.String("path", s.Path), slog.String("reason", s.Reason))
	}
	return bundle.Definitions
}
