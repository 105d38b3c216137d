package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"projex/activity"
	"projex/api"
	"projex/board"
	"projex/config"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the board API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := log.StandardLogger()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown")
		}
	}()

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := board.NewHub(board.NewSynchronizer(b.store, logger), board.SessionOptions{
		Publisher:      b.publisher,
		Metrics:        board.NewMetrics(reg),
		Logger:         logger,
		PersistTimeout: cfg.Session.PersistTimeout,
	}, cfg.Session.IdleTTL)
	defer hub.Close()
	go hub.Run(ctx)

	auth, stopAuth, err := newAuth(cfg.Auth, logger)
	if err != nil {
		return err
	}
	defer stopAuth()

	opts := api.Options{Logger: logger}
	if b.redis != nil {
		opts.Deduper = api.NewRedisDeduper(b.redis, cfg.Redis.DeduperTTL)
		opts.Activity = activity.NewFeed(b.redis, 0)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{
			echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept,
			echo.HeaderAuthorization, echo.HeaderContentEncoding, "Idempotency-Key",
		},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "projex",
		Registerer: reg,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))
	e.Use(api.GzipRequestMiddleware())
	e.Use(api.ObservabilityMiddleware(logger))
	e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: reg}))

	api.Register(e, hub, auth, opts)

	errc := make(chan error, 1)
	go func() {
		errc <- e.Start(":" + cfg.Port)
	}()
	logger.WithFields(log.Fields{"port": cfg.Port, "backend": cfg.Backend}).Info("projex api listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// Closing the hub ends open board streams before the server drains.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newAuth(cfg config.AuthConfig, logger *log.Logger) (*api.Auth, func(), error) {
	if cfg.TestMode {
		logger.Warn("AUTH0_TEST_MODE enabled; accepting HS256 test tokens")
		return api.NewAuth(nil, api.AuthOptions{
			TestSecret:  []byte(cfg.TestSecret),
			KeyCacheTTL: cfg.KeyCacheTTL,
		}), func() {}, nil
	}
	jwks, err := keyfunc.Get(cfg.JWKSURL(), keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.WithError(err).Warn("jwks refresh")
		},
	})
	if err != nil {
		return nil, nil, err
	}
	auth := api.NewAuth(jwks, api.AuthOptions{
		Audience:    cfg.Audience,
		Issuer:      cfg.Issuer(),
		KeyCacheTTL: cfg.KeyCacheTTL,
	})
	return auth, jwks.EndBackground, nil
}
