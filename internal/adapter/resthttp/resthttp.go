// Package resthttp implements the HTTP adapter shell: bind a net/http
// listener, derive a key pattern and a method+URL predicate from each
// request, match against the registry, and translate the executor's reply
// into an HTTP response.
package resthttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dlclark/regexp2"

	"github.com/code0-tech/draco-adapter/internal/flow"
	"github.com/code0-tech/draco-adapter/internal/metrics"
	"github.com/code0-tech/draco-adapter/internal/registry"
	"github.com/code0-tech/draco-adapter/internal/runtime"
	"github.com/code0-tech/draco-adapter/internal/validator"
	"github.com/code0-tech/draco-adapter/internal/value"
)

// Config is this shell's adapter-specific config, loaded through
// runtime.AdapterConfigLoader. Zero values fall back to the server
// config's HTTP_SERVER_HOST/HTTP_SERVER_PORT.
type Config struct {
	Host string
	Port int
}

// Adapter implements runtime.Adapter for the HTTP trigger family.
type Adapter struct {
	httpServer *http.Server
	logger     *slog.Logger
	once       sync.Once
}

// New constructs an uninitialized Adapter; runtime.Runtime calls Init to
// bind the listener once configuration has loaded.
func New() *Adapter { return &Adapter{} }

func (a *Adapter) Init(_ context.Context, rc *runtime.Context) error {
	a.logger = rc.Logger.With(slog.String("adapter", "resthttp"))

	cfg, _ := rc.AdapterConfig.(Config)
	host := cfg.Host
	port := cfg.Port
	if host == "" {
		host = rc.ServerConfig.HTTPServerHost
	}
	if port == 0 {
		port = rc.ServerConfig.HTTPServerPort
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	a.httpServer = &http.Server{
		Addr:              addr,
		Handler:           newHandler(rc, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return nil
}

func (a *Adapter) Run(_ context.Context, _ *runtime.Context) error {
	a.logger.Info("resthttp: listening", slog.String("address", a.httpServer.Addr))
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *Adapter) Shutdown(ctx context.Context, _ *runtime.Context) error {
	var err error
	a.once.Do(func() {
		a.logger.Info("resthttp: shutting down")
		err = a.httpServer.Shutdown(ctx)
	})
	return err
}

var _ runtime.Adapter = (*Adapter)(nil)

// handler implements the per-request pipeline: match, decode body,
// validate, dispatch, translate the reply.
type handler struct {
	rc     *runtime.Context
	logger *slog.Logger
}

func newHandler(rc *runtime.Context, logger *slog.Logger) http.Handler {
	return &handler{rc: rc, logger: logger}
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slug := extractSlug(r.URL.Path)
	pattern := "REST." + slug + ".*"

	predicate := func(f flow.ValidationFlow) bool {
		return identify(f, r.Method, r.URL.Path)
	}

	scanStart := time.Now()
	result := registry.Match(r.Context(), h.rc.Registry, pattern, h.rc.DecodeFlow, predicate, h.logger)
	if h.rc.Metrics != nil {
		label := matchMetricLabel(result.Kind)
		h.rc.Metrics.ObserveMatch(label)
		h.rc.Metrics.ObserveRegistryScan(label, time.Since(scanStart))
	}

	switch result.Kind {
	case registry.ResultNone:
		http.Error(w, "no matching flow", http.StatusNotFound)
		return
	case registry.ResultMultiple:
		http.Error(w, "ambiguous flow match", http.StatusInternalServerError)
		return
	}

	f := result.Flows[0]

	var input *value.Value
	if r.Body != nil && r.ContentLength != 0 {
		body, err := readAll(r)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			v, err := value.DecodeJSON(body)
			if err != nil {
				http.Error(w, "malformed request body", http.StatusBadRequest)
				return
			}
			input = &v
		}
	}

	// Pre-validate so a failed validation can surface its report body.
	// Dispatcher re-runs the same pure check before encoding, which is
	// harmless since Verify has no side effects.
	if input != nil && f.InputTypeIdentifier != nil {
		if report, ok := validator.Verify(f, *input); !ok {
			writeJSON(w, http.StatusBadRequest, validator.MarshalReport(report))
			return
		}
	}

	result2, err := h.rc.Dispatcher.ValidateAndExecute(r.Context(), f, input)
	if err != nil || result2 == nil {
		http.Error(w, "Flow execution failed", http.StatusInternalServerError)
		return
	}

	writeReply(w, *result2)
}

// identify is the HTTP predicate: method equality against
// HTTP_METHOD.method and a regex match of the request path against
// HTTP_URL.url.
func identify(f flow.ValidationFlow, method, path string) bool {
	methodValue, ok := flow.Field(f.Settings, "HTTP_METHOD", "method")
	if !ok {
		return false
	}
	wantMethod, ok := methodValue.AsString()
	if !ok || !strings.EqualFold(wantMethod, method) {
		return false
	}

	urlValue, ok := flow.Field(f.Settings, "HTTP_URL", "url")
	if !ok {
		return false
	}
	pattern, ok := urlValue.AsString()
	if !ok {
		return false
	}

	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return false
	}
	matched, err := re.MatchString(path)
	return err == nil && matched
}

func extractSlug(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

func matchMetricLabel(kind registry.ResultKind) metrics.MatchResult {
	switch kind {
	case registry.ResultNone:
		return metrics.MatchResultNone
	case registry.ResultSingle:
		return metrics.MatchResultSingle
	default:
		return metrics.MatchResultMultiple
	}
}

func readAll(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeReply translates the executor's {status_code, headers, payload}
// reply shape into the HTTP response.
func writeReply(w http.ResponseWriter, reply value.Value) {
	status := http.StatusOK
	if sc, ok := reply.Get("status_code"); ok {
		if n, ok := sc.AsNumber(); ok {
			status = int(n)
		}
	}

	if hdrs, ok := reply.Get("headers"); ok {
		if list, ok := hdrs.AsList(); ok {
			for _, entry := range list {
				keyV, kOK := entry.Get("key")
				valV, vOK := entry.Get("value")
				if !kOK || !vOK {
					continue
				}
				key, kOK := keyV.AsString()
				val, vOK := valV.AsString()
				if kOK && vOK {
					w.Header().Add(key, val)
				}
			}
		}
	}

	payload, hasPayload := reply.Get("payload")
	w.WriteHeader(status)
	if hasPayload {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
