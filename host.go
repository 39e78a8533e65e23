package offlinecache

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Worker is the set of callbacks a Host delivers events to.
type Worker interface {
	Install(ctx context.Context) error
	Activate(ctx context.Context) error
	// Fetch answers an intercepted request.
	Fetch(ctx context.Context, r *http.Request) (*http.Response, error)
	Sync(ctx context.Context, tag string) error
	// Push handles a push message; data is nil if the message has no payload.
	Push(ctx context.Context, data []byte) error
}

// CacheInspector is optionally implemented by workers that expose their cache contents.
type CacheInspector interface {
	CacheNames() ([]string, error)
	CachedURLs(name string) ([]string, bool, error)
}

// EventPathPrefix is the path under which the host accepts events over HTTP.
const EventPathPrefix = "/.offline-cache"

// Host runs a single worker.
// Lifecycle, sync and push events are delivered one at a time.
// Intercepted requests are handed to the worker concurrently.
type Host struct {
	worker Worker
	events sync.Mutex
	router chi.Router
	log    zerolog.Logger
}

// NewHost registers the worker. A host never replaces its worker.
func NewHost(worker Worker, logger zerolog.Logger) *Host {
	h := &Host{
		worker: worker,
		log:    logger,
	}
	r := chi.NewRouter()
	r.NotFound(h.handleFetch)
	r.MethodNotAllowed(h.handleFetch)
	r.Route(EventPathPrefix, func(r chi.Router) {
		r.Post("/sync/{tag}", h.handleSync)
		r.Post("/push", h.handlePush)
		if _, ok := worker.(CacheInspector); ok {
			r.Get("/caches", h.handleCacheNames)
			r.Get("/caches/{name}", h.handleCachedURLs)
		}
	})
	h.router = r
	return h
}

// Start installs and then activates the worker.
// The worker only controls requests once Start returned without error.
func (h *Host) Start(ctx context.Context) error {
	h.events.Lock()
	defer h.events.Unlock()
	if err := h.worker.Install(ctx); err != nil {
		return err
	}
	return h.worker.Activate(ctx)
}

// Sync delivers a sync event.
func (h *Host) Sync(ctx context.Context, tag string) error {
	h.events.Lock()
	defer h.events.Unlock()
	return h.worker.Sync(ctx, tag)
}

// Push delivers a push event.
func (h *Host) Push(ctx context.Context, data []byte) error {
	h.events.Lock()
	defer h.events.Unlock()
	return h.worker.Push(ctx, data)
}

// ServeHTTP implements the http.Handler interface.
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Host) handleFetch(w http.ResponseWriter, r *http.Request) {
	serveFetch(w, r, h.worker, h.logger(r))
}

func (h *Host) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if err := h.Sync(r.Context(), tag); err != nil {
		log := h.logger(r)
		log.Error().Err(err).Str("tag", tag).Msg("Sync event failed")
		http.Error(w, "Sync failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Host) handlePush(w http.ResponseWriter, r *http.Request) {
	var data []byte
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Could not read push message", http.StatusBadRequest)
			return
		}
		if len(body) > 0 {
			data = body
		}
	}
	if err := h.Push(r.Context(), data); err != nil {
		log := h.logger(r)
		log.Error().Err(err).Msg("Push event failed")
		http.Error(w, "Push failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Host) handleCacheNames(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)
	names, err := h.worker.(CacheInspector).CacheNames()
	if err != nil {
		log.Error().Err(err).Msg("Could not list partitions")
		http.Error(w, "Could not list caches", http.StatusInternalServerError)
		return
	}
	writeJSON(w, names, log)
}

func (h *Host) handleCachedURLs(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)
	name := chi.URLParam(r, "name")
	urls, ok, err := h.worker.(CacheInspector).CachedURLs(name)
	if err != nil {
		log.Error().Err(err).Str("partition", name).Msg("Could not list cached URLs")
		http.Error(w, "Could not list cache", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, urls, log)
}

func (h *Host) logger(r *http.Request) zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		return h.log
	}
	return *logger
}

func writeJSON(w http.ResponseWriter, v any, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Could not write response body to client")
	}
}
