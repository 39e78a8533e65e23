package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	dbFilenameFlag     string
	appNameFlag        string
	appVersionFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to YAML config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL of the app")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&appNameFlag, "app", offlinecache.DefaultAppName, "App name used in cache partition names")
	flag.StringVar(&appVersionFlag, "app-version", offlinecache.DefaultVersion, "App version, partitions of other versions are deleted on start")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	opts, err := loadOptions(configFilenameFlag, env.ToMap(os.Environ()))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	// flags given on the command line win
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			opts.Origin = originFlag
		case "port":
			opts.Port = portFlag
		case "db":
			opts.DB = dbFilenameFlag
		case "app":
			opts.AppName = appNameFlag
		case "app-version":
			opts.Version = appVersionFlag
		case "log-file":
			opts.LogFile = logFilenameFlag
		}
	})

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout}}
	if opts.LogFile != "" {
		if logFileOutput, err := os.OpenFile(opts.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	log.Logger = log.Level(logLevel).Output(zerolog.MultiLevelWriter(logOutputs...)).
		With().Str("build", version).Logger()

	if opts.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(opts.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}

	// "memory" keeps partitions for the lifetime of the process only
	dbFilename := opts.DB
	if dbFilename == "memory" {
		dbFilename = ""
	}
	storage, err := cache.NewSQLiteStorage(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Str("db", opts.DB).Msg("Could not open cache db")
	}

	agent := offlinecache.CreateAgent(offlinecache.Config{
		Storage:           storage,
		OriginURL:         *originURL,
		Logger:            &log.Logger,
		AppName:           opts.AppName,
		Version:           opts.Version,
		Precache:          opts.Precache,
		APIEndpoints:      opts.APIEndpoints,
		NotificationTitle: opts.NotificationTitle,
	})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := offlinecache.NewHost(agent, log.Logger)
	if err := host.Start(ctx); err != nil {
		// a redundant agent still passes requests through
		log.Error().Err(err).Msg("Could not start agent, serving from network only")
	}

	handler := hlog.NewHandler(log.Logger)(
		hlog.RequestIDHandler("req", "Request-Id")(
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				hlog.FromRequest(r).Debug().
					Str("method", r.Method).
					Stringer("url", r.URL).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Msg("Served request")
			})(host)))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: handler,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("Serving %s on port %v (partitions %v)", originURL.String(), opts.Port, agent.Partitions().AllowList())
		serveErr <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case err := <-serveErr:
		log.Error().Err(err).Msg("Server stopped")
		exitCode = 1
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Could not shut down server")
		}
		cancel()
	}

	// let pending revalidations write to the cache before closing it
	agent.Wait()
	if err := storage.Close(); err != nil {
		log.Error().Err(err).Msg("Could not close cache db")
	}
	os.Exit(exitCode)
}
