package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vcoded/pkg/blobs"
	"vcoded/pkg/bus"
	"vcoded/pkg/cache"
	"vcoded/pkg/db"
	"vcoded/pkg/telemetry"
	"vcoded/services/attest"
	"vcoded/services/vcode"
)

const serviceName = "vcoded"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := vcode.LoadConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	shutdownTelemetry, traceMiddleware, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	orm, err := db.OpenGorm(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open gorm")
	}

	store, err := vcode.NewGormStore(orm)
	if err != nil {
		log.Fatal().Err(err).Msg("build store")
	}

	opts := vcode.Options{
		Store:         store,
		PublicBaseURL: cfg.PublicBaseURL,
	}

	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect nats")
		}
		defer b.Close()
		opts.Notifier = vcode.NewBusNotifier(b)
	}

	if cfg.AttestKey != "" {
		signer, err := attest.NewSignerFromEnv()
		if err != nil {
			log.Fatal().Err(err).Msg("load attestation key")
		}
		opts.Signer = signer
	}

	if cfg.DocumentBucket != "" {
		client, err := blobs.NewClientFromEnv(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("connect object storage")
		}
		documents, err := vcode.NewBlobDocumentStore(client, cfg.DocumentBucket)
		if err != nil {
			log.Fatal().Err(err).Msg("build document store")
		}
		opts.Documents = documents
	}

	proofCache, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer proofCache.Close()

	svc, err := vcode.New(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("build service")
	}

	api, err := vcode.NewAPI(svc, proofCache)
	if err != nil {
		log.Fatal().Err(err).Msg("build api")
	}
	routes, err := api.Routes()
	if err != nil {
		log.Fatal().Err(err).Msg("build routes")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(pingCtx, pool); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", withAPIMiddleware(cfg, routes))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           traceMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting vcoded")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}

func withAPIMiddleware(cfg vcode.Config, next http.Handler) http.Handler {
	corsHandler := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	limit := httprate.LimitByIP(cfg.RateLimit, time.Minute)
	return corsHandler(limit(next))
}
