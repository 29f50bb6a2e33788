package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/homemarket/negotiation-engine/internal/api/http"
	"github.com/homemarket/negotiation-engine/internal/application/negotiation"
	"github.com/homemarket/negotiation-engine/internal/config"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/events"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/identity"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/mongodb"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/sse"
	"github.com/homemarket/negotiation-engine/internal/metrics"
	"github.com/homemarket/negotiation-engine/internal/policy"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		logger = logger.Level(level)
	}

	ctx := context.Background()
	m := metrics.New("negotiation")

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("store error")
	}
	defer b.close()

	// event publishers
	sseHub := sse.NewHub()
	defer sseHub.Stop()
	fanout := events.NewFanout().
		Add("sse", sseHub).
		Add("log", events.NewLogPublisher(logger))
	if cfg.MongoURI != "" {
		client, err := mongodb.Connect(ctx, cfg.MongoURI)
		if err != nil {
			logger.Fatal().Err(err).Msg("mongo error")
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		fanout.Add("mongo", mongodb.NewNotificationSink(client.Database(cfg.MongoDatabase)))
	}

	offerPolicy, err := policy.Compile(cfg.OfferPolicy)
	if err != nil {
		logger.Fatal().Err(err).Msg("offer policy error")
	}

	verifier, err := buildVerifier(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("auth config error")
	}

	// services
	negotiationSvc := negotiation.NewService(b.store, b.listings, fanout, m, logger, cfg.MaxCommitAttempts).
		WithPolicy(offerPolicy)

	// API server
	apiServer := httpapi.NewServer(httpapi.Options{
		Negotiations: negotiationSvc,
		Verifier:     verifier,
		Hub:          sseHub,
		Metrics:      m,
		Logger:       logger,
		TrustHeader:  cfg.TrustHeader,
		RateLimit: httpapi.RateLimit{
			RequestsPerMinute: cfg.RateLimitRPM,
			Burst:             cfg.RateLimitBurst,
		},
		RequestTimeout: cfg.RequestTimeout,
		Cluster:        b.cluster,
		Ready:          b.ready,
	})

	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	if b.raft != nil && !cfg.Raft.Bootstrap && cfg.Raft.JoinURL != "" {
		go func() {
			if err := joinCluster(cfg, defaultJoinRetries, time.Second); err != nil {
				logger.Error().Err(err).Str("join_url", cfg.Raft.JoinURL).Msg("join cluster failed")
				return
			}
			logger.Info().Str("join_url", cfg.Raft.JoinURL).Msg("joined cluster")
		}()
	}

	// start server
	go func() {
		logger.Info().
			Str("addr", cfg.ServerAddr).
			Str("backend", cfg.StoreBackend).
			Str("offer_policy", offerPolicy.String()).
			Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
}

// buildVerifier chains the configured credential checks. Bearer tokens are
// tried first, then API keys, then the gateway header.
func buildVerifier(cfg *config.Config) (identity.Verifier, error) {
	var chain identity.Chain
	if cfg.JWTSecret != "" {
		v, err := identity.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, 0)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	if cfg.APIKeys != "" {
		v, err := identity.ParseAPIKeys(cfg.APIKeys)
		if err != nil {
			return nil, err
		}
		chain = append(chain, v)
	}
	if cfg.TrustHeader != "" {
		chain = append(chain, identity.TrustedHeader{})
	}
	return chain, nil
}
