package offlinecache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	classifier "github.com/always-cache/offline-cache/pkg/request-classifier"
	"github.com/always-cache/offline-cache/rfc9211"
)

const (
	DefaultAppName           = "portfolio"
	DefaultVersion           = "v1"
	DefaultNotificationTitle = "Portfolio Update"
)

// DefaultPrecache lists the app shell resources stored on install.
// Relative paths are resolved against the origin URL.
var DefaultPrecache = []string{
	"/",
	"/manifest.json",
	"icons/icon-192.png",
	"icons/icon-512.png",
	"icons/apple-touch-icon.png",
	"favicon.ico",
}

type Config struct {
	// Storage for cache partitions. An in-memory storage is used if nil.
	Storage cache.Storage
	// URL of the origin server.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Network used for all outgoing requests. An HTTPFetcher is used if nil.
	Network Fetcher
	// Displays push notifications. Notifications are logged if nil.
	Notifier Notifier
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// AppName and Version name the cache partitions, e.g. portfolio-cache-v1.
	// Changing the version evicts the partitions of other versions on activation.
	AppName string
	Version string
	// Resources to store on install. DefaultPrecache is used if nil.
	Precache []string
	// URL prefixes of the APIs served network-first.
	// requestclassifier.DefaultAPIEndpoints is used if nil.
	APIEndpoints []string
	// Title of push notifications. DefaultNotificationTitle is used if empty.
	NotificationTitle string
}

// PartitionNames are the names of the cache partitions used by one version of the agent.
type PartitionNames struct {
	// App shell and bundle assets, also holds the precached resources.
	General string
	Static  string
	API     string
}

func NewPartitionNames(appName, version string) PartitionNames {
	return PartitionNames{
		General: fmt.Sprintf("%s-cache-%s", appName, version),
		Static:  "static-cache-" + version,
		API:     "api-cache-" + version,
	}
}

// AllowList returns the names of the partitions kept on activation.
func (n PartitionNames) AllowList() []string {
	return []string{n.General, n.Static, n.API}
}

// Agent intercepts requests for an origin and answers them from cache partitions or the network.
// It implements Worker and http.Handler.
type Agent struct {
	id                uuid.UUID
	storage           cache.Storage
	originURL         url.URL
	network           Fetcher
	notifier          Notifier
	keyer             cachekey.CacheKeyer
	rules             classifier.Rules
	names             PartitionNames
	precache          []string
	notificationTitle string
	log               zerolog.Logger

	mutex       sync.Mutex
	state       State
	skipWaiting bool
	controlling atomic.Bool

	// guards background.Add against a concurrent Wait
	backgroundMutex sync.Mutex
	background      sync.WaitGroup
}

// CreateAgent sets up the agent.
// The agent passes requests through to the network until it has been installed and activated.
func CreateAgent(config Config) *Agent {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.Version == "" {
		config.Version = DefaultVersion
	}
	if config.Precache == nil {
		config.Precache = DefaultPrecache
	}
	if config.APIEndpoints == nil {
		config.APIEndpoints = classifier.DefaultAPIEndpoints
	}
	if config.NotificationTitle == "" {
		config.NotificationTitle = DefaultNotificationTitle
	}
	if config.Storage == nil {
		config.Storage = cache.NewMemStorage()
	}
	if config.Network == nil {
		config.Network = NewHTTPFetcher()
	}

	id := uuid.New()
	// create a child logger and add defaults
	logger = logger.With().
		Str("origin", config.OriginURL.String()).
		Str("agent", id.String()).
		Str("version", config.Version).
		Logger()

	if config.Notifier == nil {
		config.Notifier = LogNotifier{Logger: logger}
	}

	origin := config.OriginURL
	return &Agent{
		id:                id,
		storage:           config.Storage,
		originURL:         origin,
		network:           config.Network,
		notifier:          config.Notifier,
		keyer:             cachekey.NewCacheKeyer(&origin),
		rules:             classifier.DefaultRules(config.APIEndpoints),
		names:             NewPartitionNames(config.AppName, config.Version),
		precache:          config.Precache,
		notificationTitle: config.NotificationTitle,
		log:               logger,
		state:             StateParsed,
	}
}

// Partitions returns the names of the partitions this agent reads and writes.
func (a *Agent) Partitions() PartitionNames {
	return a.names
}

// ServeHTTP implements the http.Handler interface.
func (a *Agent) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	serveFetch(w, r, a, a.logger(r))
}

// Fetch answers an intercepted request.
// Relative request URLs are resolved against the origin.
// The request is classified and handed to exactly one strategy.
func (a *Agent) Fetch(ctx context.Context, r *http.Request) (*http.Response, error) {
	req := a.resolve(ctx, r)
	log := a.log.With().Str("method", req.Method).Str("url", req.URL.String()).Logger()

	var (
		res *http.Response
		cs  rfc9211.CacheStatus
		err error
	)
	if !a.controlling.Load() {
		log.Trace().Msg("Not controlling yet, passing through")
		res, cs, err = a.networkOnly(req, "uncontrolled")
	} else {
		category := a.rules.Classify(req.URL)
		log.Trace().Str("category", string(category)).Msg("Classified request")
		switch {
		case category == classifier.CategoryAPI:
			res, cs, err = a.networkFirst(req)
		case category == classifier.CategoryStatic:
			res, cs, err = a.cacheFirst(req)
		case category == classifier.CategoryBundle || req.URL.Path == "/":
			res, cs, err = a.staleWhileRevalidate(ctx, req)
		default:
			res, cs, err = a.networkOnly(req, "network-only")
		}
	}

	if err != nil {
		log.Debug().Err(err).Str("cacheStatus", cs.String()).Msg("No response for request")
		return nil, err
	}
	cs.AddTo(res.Header)
	log.Debug().
		Int("status", res.StatusCode).
		Str("cacheStatus", cs.String()).
		Bool("hit", cs.IsHit()).
		Msg("Responding to request")
	return res, nil
}

// resolve creates the outgoing request for an intercepted request.
// Absolute (proxy) request URLs are kept, others are directed to the origin.
func (a *Agent) resolve(ctx context.Context, r *http.Request) *http.Request {
	req := r.Clone(ctx)
	if !req.URL.IsAbs() {
		req.URL.Scheme = a.originURL.Scheme
		req.URL.Host = a.originURL.Host
	}
	req.Host = req.URL.Host
	req.RequestURI = ""
	removeHopHeaders(req.Header)
	// let the transport negotiate compression, so stored bodies are decoded
	req.Header.Del("Accept-Encoding")
	return req
}

// logger returns the logger from the request context.
// If no logger is found, it will return the agent logger.
func (a *Agent) logger(r *http.Request) zerolog.Logger {
	logger := hlog.FromRequest(r)
	if logger.GetLevel() == zerolog.Disabled {
		return a.log
	}
	return logger.With().Str("agent", a.id.String()).Logger()
}

func serveFetch(w http.ResponseWriter, r *http.Request, worker Worker, log zerolog.Logger) {
	res, err := worker.Fetch(r.Context(), r)
	if err != nil {
		log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not get response")
		http.Error(w, "Error contacting origin", http.StatusBadGateway)
		return
	}
	if err := send(w, res); err != nil {
		log.Error().Err(err).Msg("Could not write response body to client")
	}
}

func send(w http.ResponseWriter, res *http.Response) error {
	defer res.Body.Close()
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	_, err := io.Copy(w, res.Body)
	return err
}

// Hop-by-hop headers, see RFC 9110 section 7.6.1.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, name := range h.Values("Connection") {
		h.Del(name)
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// forwarding headers of the origin's own proxies are not passed to the client
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
	removeHopHeaders(dst)
}
