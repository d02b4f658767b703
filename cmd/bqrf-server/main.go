package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/navikt/bq-remote-functions/pkg/auth"
	"github.com/navikt/bq-remote-functions/pkg/cache"
	"github.com/navikt/bq-remote-functions/pkg/config/v2"
	"github.com/navikt/bq-remote-functions/pkg/cs"
	"github.com/navikt/bq-remote-functions/pkg/database"
	"github.com/navikt/bq-remote-functions/pkg/dictionary"
	"github.com/navikt/bq-remote-functions/pkg/functions"
	"github.com/navikt/bq-remote-functions/pkg/leaderelection"
	"github.com/navikt/bq-remote-functions/pkg/requestlogger"
	"github.com/navikt/bq-remote-functions/pkg/service/core"
	"github.com/navikt/bq-remote-functions/pkg/service/core/handlers"
	"github.com/navikt/bq-remote-functions/pkg/service/core/routes"
	"github.com/navikt/bq-remote-functions/pkg/syncers/cachepurger"
	"github.com/navikt/bq-remote-functions/pkg/syncers/dictionaryrefresher"
	"github.com/navikt/bq-remote-functions/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

var (
	configFilePath = flag.String("config", "config.yaml", "path to config file")
	printRoutes    = flag.Bool("print-routes", false, "print the routes and exit")
)

const (
	CachePurgeFrequency = 10 * time.Minute
	CachePurgeDelay     = 1 * time.Minute
	ShutdownTimeout     = 10 * time.Second
)

var healthPaths = []string{
	"/internal/isalive",
	"/internal/isready",
	"/internal/metrics",
}

func main() {
	flag.Parse()

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileParts, err := config.ProcessConfigPath(*configFilePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("processing config path")
	}

	cfg, err := config.NewFileSystemLoader().Load(fileParts.FileName, fileParts.Path, config.EnvPrefix, config.NewDefaultEnvBinder())
	if err != nil {
		zlog.Fatal().Err(err).Msg("loading config")
	}

	err = cfg.Validate()
	if err != nil {
		zlog.Fatal().Err(err).Msg("validating config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		zlog.Fatal().Err(err).Msg("parsing log level")
	}

	zlog = zlog.Level(level).With().Str("service", cfg.ServiceName).Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, zlog.With().Str("subsystem", "telemetry").Logger())
	if err != nil {
		zlog.Fatal().Err(err).Msg("setting up telemetry")
	}

	var readiness []handlers.ReadinessCheck

	cacher, cacheReady, closeCache, err := newCacher(ctx, cfg, zlog.With().Str("subsystem", "cache").Logger())
	if err != nil {
		zlog.Fatal().Err(err).Msg("setting up reply cache")
	}

	if cacheReady != nil {
		readiness = append(readiness, cacheReady)
	}

	dict, err := newDictionary(ctx, cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("setting up dictionary")
	}

	if cfg.Dictionary.Source != config.DictionarySourceNone {
		dictLog := zlog.With().Str("subsystem", "dictionary").Logger()

		_, err := dict.Reload(ctx)
		if err != nil {
			dictLog.Error().Err(err).Msg("initial dictionary load, lookups answer NULL until a reload succeeds")
		} else {
			dictLog.Info().Int("entries", dict.Len()).Str("version", dict.Version()).Msg("dictionary loaded")
		}

		readiness = append(readiness, func(context.Context) error {
			if dict.Version() == "" {
				return fmt.Errorf("dictionary not loaded")
			}

			return nil
		})

		if interval := cfg.Dictionary.RefreshInterval(); interval > 0 {
			go dictionaryrefresher.New(dict, dictLog).Run(ctx, interval, interval)
		}
	}

	registry := functions.NewRegistry()
	registry.MustRegister(functions.Builtins(dict)...)

	metrics := core.NewMetrics()

	services := core.NewServices(
		core.NewRemoteFunctionService(
			registry,
			cacher,
			core.BatchLimits{
				MaxRows:     cfg.Batch.MaxBatchRows,
				Concurrency: cfg.Batch.Concurrency,
				Timeout:     cfg.Batch.Timeout(),
			},
			metrics,
			zlog.With().Str("subsystem", "remote_functions").Logger(),
		),
	)

	var authenticator auth.MiddlewareHandler
	if cfg.Auth.Enabled {
		authenticator = auth.Middleware(
			auth.NewGoogleVerifier(ctx, cfg.Auth.Audience),
			cfg.Auth.AllowedEmails,
			zlog.With().Str("subsystem", "auth").Logger(),
		)
	}

	h := handlers.NewHandlers(services, readiness...)
	endpoints := handlers.NewEndpoints(zlog, h, cfg.Server.MaxRequestBytes)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(requestlogger.Middleware(zlog, healthPaths...))
	router.Use(middleware.Recoverer)

	routes.Add(router,
		routes.NewRemoteFunctionRoutes(routes.NewRemoteFunctionEndpoints(endpoints), authenticator),
		routes.NewHealthRoutes(routes.NewHealthEndpoints(endpoints)),
		routes.NewMetricsRoutes(routes.NewMetricsEndpoints(prom(metrics.Collectors()...))),
	)

	if *printRoutes {
		err := routes.Print(router, os.Stdout)
		if err != nil {
			zlog.Fatal().Err(err).Msg("printing routes")
		}

		return
	}

	server := http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Address, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info().Str("address", server.Addr).Msg("listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("serving")
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Warn().Err(err).Msg("shutting down server")
	}

	if err := closeCache(); err != nil {
		zlog.Warn().Err(err).Msg("closing reply cache")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		zlog.Warn().Err(err).Msg("shutting down telemetry")
	}
}

func newCacher(ctx context.Context, cfg config.Config, log zerolog.Logger) (cache.Cacher, handlers.ReadinessCheck, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Cache.Backend {
	case cache.BackendMemory:
		return cache.NewMemory(cfg.Cache.TTL(), cfg.Cache.MaxEntries, log), nil, noClose, nil
	case cache.BackendPostgres:
		repo, err := database.New(
			cfg.Postgres.ConnectionString(),
			cfg.Postgres.Configuration.MaxIdleConnections,
			cfg.Postgres.Configuration.MaxOpenConnections,
		)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("setting up database: %w", err)
		}

		elector, err := leaderelection.NewFromEnv()
		if err != nil {
			_ = repo.Close()

			return nil, nil, nil, fmt.Errorf("setting up leader election: %w", err)
		}

		c := cache.New(cfg.Cache.TTL(), repo.GetDB(), log)
		go cachepurger.New(c, elector.IsLeader, log).Run(ctx, CachePurgeDelay, CachePurgeFrequency)

		return c, repo.GetDB().PingContext, repo.Close, nil
	case cache.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ping := func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}

		if err := ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis is not reachable yet")
		}

		return cache.NewRedis(cfg.Cache.TTL(), rdb, log), ping, rdb.Close, nil
	default:
		return cache.NewNoop(), nil, noClose, nil
	}
}

func newDictionary(ctx context.Context, cfg config.Config) (*dictionary.Store, error) {
	switch cfg.Dictionary.Source {
	case config.DictionarySourceFile:
		return dictionary.NewStore(dictionary.NewFileLoader(cfg.Dictionary.Path)), nil
	case config.DictionarySourceGCS:
		client, err := cs.New(ctx, cfg.Dictionary.Bucket, cfg.GCS.Endpoint)
		if err != nil {
			return nil, err
		}

		return dictionary.NewStore(dictionary.NewGCSLoader(client, cfg.Dictionary.Object)), nil
	default:
		return dictionary.NewStatic(map[string]string{}), nil
	}
}

func prom(cols ...prometheus.Collector) *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewGoCollector())
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(cols...)

	return r
}
