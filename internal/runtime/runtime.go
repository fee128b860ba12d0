// Package runtime hosts a pluggable adapter through its whole lifecycle:
// the Created/Configured/Initialized/Running/ShuttingDown/Stopped state
// machine, the boot sequence that wires configuration, control-plane push,
// the health endpoint, and the shared Context, and graceful shutdown on
// Ctrl+C/SIGTERM.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/code0-tech/draco-adapter/internal/bus"
	"github.com/code0-tech/draco-adapter/internal/config"
	"github.com/code0-tech/draco-adapter/internal/controlplane"
	"github.com/code0-tech/draco-adapter/internal/dispatcher"
	"github.com/code0-tech/draco-adapter/internal/health"
	"github.com/code0-tech/draco-adapter/internal/logging"
	"github.com/code0-tech/draco-adapter/internal/metrics"
	"github.com/code0-tech/draco-adapter/internal/registry"
)

// State is one node of the runtime's lifecycle state machine.
type State uint8

const (
	StateCreated State = iota
	StateConfigured
	StateInitialized
	StateRunning
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigured:
		return "configured"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// AdapterRunError is fatal: it wraps whatever error the adapter's run loop
// returned.
type AdapterRunError struct{ Err error }

func (e *AdapterRunError) Error() string { return fmt.Sprintf("runtime: adapter run failed: %v", e.Err) }
func (e *AdapterRunError) Unwrap() error { return e.Err }

// AdapterShutdownError is logged, never fatal; the process still exits.
type AdapterShutdownError struct{ Err error }

func (e *AdapterShutdownError) Error() string {
	return fmt.Sprintf("runtime: adapter shutdown failed: %v", e.Err)
}
func (e *AdapterShutdownError) Unwrap() error { return e.Err }

// Adapter is the pluggable trigger-family implementation the runtime
// hosts: init once, run until it returns or is asked to stop, shutdown at
// most once. Run must return promptly once ctx is canceled.
type Adapter interface {
	Init(ctx context.Context, rc *Context) error
	Run(ctx context.Context, rc *Context) error
	Shutdown(ctx context.Context, rc *Context) error
}

// AdapterConfigLoader loads the adapter-specific part of the configuration
// the runtime itself treats as opaque. The loaded value is attached to
// Context untyped; the adapter knows its own concrete type and asserts it
// back.
type AdapterConfigLoader func(ctx context.Context) (any, error)

// EnvFileLoader loads a .env file at startup. The default is a no-op; a
// real implementation is the adapter binary's concern, the runtime never
// parses one itself.
type EnvFileLoader interface{ Load() error }

type noopEnvFileLoader struct{}

func (noopEnvFileLoader) Load() error { return nil }

// Context is the shared value handed to every concurrent task, immutable
// after init: the server and adapter configuration, the registry handle,
// and the ambient collaborators (dispatcher, metrics, logger) every
// adapter shell needs.
type Context struct {
	ServerConfig  config.Config
	AdapterConfig any

	Registry   registry.Store
	DecodeFlow registry.Decoder
	Dispatcher *dispatcher.Dispatcher
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
}

// Options configures a Runtime. Adapter, Registry, Bus, and DecodeFlow are
// required; everything else has a usable default.
type Options struct {
	Adapter             Adapter
	AdapterConfigLoader AdapterConfigLoader
	ConfigFile          string
	EnvFileLoader       EnvFileLoader

	Registry   registry.Store
	DecodeFlow registry.Decoder
	Bus        bus.Bus

	ControlPlane controlplane.Pusher
	Definitions  controlplane.Definitions

	MetricsRegistry *prometheus.Registry
	Logger          *slog.Logger

	// ShutdownTimeout bounds how long adapter Shutdown is allowed to run
	// before the process gives up waiting (still invoked exactly once).
	ShutdownTimeout time.Duration
}

// Runtime orchestrates one adapter process's boot sequence and state
// machine.
type Runtime struct {
	opts Options

	mu    sync.Mutex
	state State

	logger *slog.Logger
	health *health.Server

	shutdownOnce sync.Once
	shutdownErr  error
}

// New constructs a Runtime in the Created state. It performs no I/O.
func New(opts Options) (*Runtime, error) {
	if opts.Adapter == nil {
		return nil, errors.New("runtime: Adapter is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("runtime: Registry is required")
	}
	if opts.DecodeFlow == nil {
		return nil, errors.New("runtime: DecodeFlow is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("runtime: Bus is required")
	}
	if opts.EnvFileLoader == nil {
		opts.EnvFileLoader = noopEnvFileLoader{}
	}
	if opts.ControlPlane == nil {
		opts.ControlPlane = controlplane.Noop{}
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Runtime{opts: opts, state: StateCreated}, nil
}

// State reports the runtime's current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run executes the full boot sequence and blocks until the adapter's run
// loop ends on its own, a shutdown signal arrives, or the health task
// dies. The returned error is nil on a graceful shutdown; callers exit
// non-zero on any non-nil, non-context.Canceled error.
func (r *Runtime) Run(parent context.Context) error {
	// Step 1: load configuration.
	if err := r.opts.EnvFileLoader.Load(); err != nil {
		return fmt.Errorf("runtime: load .env: %w", err)
	}
	cfg, err := config.NewLoader(r.opts.ConfigFile).Load(parent)
	if err != nil {
		return fmt.Errorf("runtime: load config: %w", err)
	}
	r.setState(StateConfigured)

	logger := r.opts.Logger
	if logger == nil {
		logger, err = logging.New(cfg)
		if err != nil {
			return fmt.Errorf("runtime: build logger: %w", err)
		}
	}
	r.logger = logger

	var adapterConfig any
	if r.opts.AdapterConfigLoader != nil {
		adapterConfig, err = r.opts.AdapterConfigLoader(parent)
		if err != nil {
			return fmt.Errorf("runtime: load adapter config: %w", err)
		}
	}

	// Step 2: best-effort control-plane push (non-static mode only).
	if cfg.Mode != string(config.ModeStatic) {
		r.pushDefinitions(parent)
	}

	// Step 3: optional health endpoint, started as a background task.
	healthErrCh := make(chan error, 1)
	if cfg.WithHealthService {
		hs, err := health.New(cfg.GRPCHost, cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("runtime: start health service: %w", err)
		}
		r.health = hs
		go func() {
			healthErrCh <- hs.Serve()
		}()
	}

	recorder := metrics.NewRecorder(r.opts.MetricsRegistry)

	// The Prometheus endpoint runs as its own background listener next to
	// the health task; an empty METRICS_ADDRESS disables it.
	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		lis, err := net.Listen("tcp", cfg.MetricsAddress)
		if err != nil {
			return fmt.Errorf("runtime: metrics listener on %s: %w", cfg.MetricsAddress, err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		metricsServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("runtime: metrics endpoint ended", slog.Any("error", err))
			}
		}()
	}

	// Step 4: build the shared, read-only Context.
	rc := &Context{
		ServerConfig:  cfg,
		AdapterConfig: adapterConfig,
		Registry:      r.opts.Registry,
		DecodeFlow:    r.opts.DecodeFlow,
		Dispatcher:    dispatcher.New(r.opts.Bus, logger, recorder),
		Metrics:       recorder,
		Logger:        logger,
	}

	// Step 5: adapter init (fatal on error).
	if err := r.opts.Adapter.Init(parent, rc); err != nil {
		return fmt.Errorf("runtime: adapter init failed: %w", err)
	}
	r.setState(StateInitialized)
	if r.health != nil {
		r.health.SetServing(true)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopWatch := r.watchDefinitions(ctx, cfg.DefinitionPath)
	defer stopWatch()

	// Step 6: spawn run, wait on run returning / health dying / signals.
	// runCtx is canceled only on the shutdown-signal/health-death branches
	// below. A run that returns on its own goes straight to Stopped and
	// never triggers Shutdown.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	r.setState(StateRunning)
	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- r.opts.Adapter.Run(runCtx, rc)
	}()

	var runResult error
	needShutdown := false
	select {
	case err := <-runErrCh:
		// (a) run returned on its own: log and propagate, no Shutdown call.
		r.logger.Info("runtime: adapter run returned", slog.Any("error", err))
		runResult = err
	case err := <-healthErrCh:
		// (b) health task ended.
		r.logger.Error("runtime: health service ended", slog.Any("error", err))
		needShutdown = true
	case <-ctx.Done():
		// (c)/(d) Ctrl+C or SIGTERM.
		r.logger.Info("runtime: shutdown signal received")
		needShutdown = true
	}

	// Step 7: on (b)/(c)/(d), shutdown runs to completion, exactly once,
	// before the adapter's run goroutine is given up on.
	if needShutdown {
		r.setState(StateShuttingDown)
		if r.health != nil {
			r.health.SetServing(false)
		}
		cancelRun()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
		defer cancel()
		r.shutdown(shutdownCtx, rc)

		select {
		case <-runErrCh:
		case <-time.After(r.opts.ShutdownTimeout):
			r.logger.Warn("runtime: adapter run did not return after shutdown")
		}
	}

	if r.health != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
		defer cancel()
		r.health.Stop(stopCtx)
	}
	if metricsServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(stopCtx); err != nil {
			r.logger.Warn("runtime: metrics endpoint shutdown failed", slog.Any("error", err))
		}
	}
	r.setState(StateStopped)

	if runResult != nil {
		return &AdapterRunError{Err: runResult}
	}
	if r.shutdownErr != nil {
		r.logger.Error("runtime: adapter shutdown failed", slog.Any("error", r.shutdownErr))
	}
	return nil
}

// shutdown calls the adapter's Shutdown exactly once, regardless of how
// many of Run's wait branches fire.
func (r *Runtime) shutdown(ctx context.Context, rc *Context) {
	r.shutdownOnce.Do(func() {
		if err := r.opts.Adapter.Shutdown(ctx, rc); err != nil {
			r.shutdownErr = &AdapterShutdownError{Err: err}
		}
	})
}

func (r *Runtime) pushDefinitions(ctx context.Context) {
	pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.opts.ControlPlane.Push(pushCtx, r.opts.Definitions); err != nil {
		if r.logger != nil {
			r.logger.Warn("runtime: control-plane push failed", slog.Any("error", err))
		}
	}
}

// watchDefinitions fsnotify-watches DEFINITION_PATH so a change event
// triggers a best-effort re-push without a restart. The re-push sends
// Options.Definitions as given at construction; the bundle on disk is not
// re-read. Only the directory's own entries are watched, not files inside
// its subdirectories. Returns a stop function; a missing or empty path
// yields a no-op watcher.
func (r *Runtime) watchDefinitions(ctx context.Context, path string) func() {
	if path == "" {
		return func() {}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.logger.Warn("runtime: definition watcher unavailable", slog.Any("error", err))
		return func() {}
	}
	if err := watcher.Add(path); err != nil {
		r.logger.Warn("runtime: watch definition path failed", slog.String("path", path), slog.Any("error", err))
		_ = watcher.Close()
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				r.logger.Info("runtime: definition path changed, re-pushing", slog.String("event", event.String()))
				r.pushDefinitions(ctx)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("runtime: definition watcher error", slog.Any("error", werr))
			}
		}
	}()

	return func() {
		_ = watcher.Close()
		<-done
	}
}
