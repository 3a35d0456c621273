package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/config"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/domain/externalevent"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/domain/observation"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/domain/valueset"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/auth"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/db"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/effect"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/hl7v2"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/middleware"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/plugin"
	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/webhook"
)

const version = "0.1.0"

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	// Value sets
	catalog, err := loadCatalog(cfg.CustomValueSets)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load value sets")
		return err
	}
	logger.Info().Int("value_sets", catalog.Len()).Msg("value set catalog loaded")

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := newServer(cfg, logger, pool, catalog)

	// ADT listener
	var mllp *hl7v2.Server
	if cfg.MLLPAddr != "" {
		sink, err := effectSink(cfg, logger)
		if err != nil {
			return err
		}
		intake := externalevent.NewIntake(externalevent.NewService(externalevent.NewRepoPG(pool), logger), sink, logger)
		mllp = hl7v2.NewServer(cfg.MLLPAddr, intake.Handle, logger)
		if err := mllp.Start(ctx); err != nil {
			logger.Error().Err(err).Msg("failed to start ADT listener")
			return err
		}
		logger.Info().Str("addr", mllp.Addr()).Msg("ADT listener started")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	if mllp != nil {
		if err := mllp.Stop(); err != nil {
			logger.Error().Err(err).Msg("ADT listener shutdown failed")
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// effectSink posts intake effects to the configured webhook. Without one
// they are only logged.
func effectSink(cfg *config.Config, logger zerolog.Logger) (func(context.Context, *effect.Effect) error, error) {
	if cfg.EffectsWebhookURL == "" {
		logger.Warn().Msg("EFFECTS_WEBHOOK_URL not set, ADT effects will only be logged")
		return nil, nil
	}
	sender, err := webhook.NewSender(cfg.EffectsWebhookURL, cfg.EffectsWebhookSecret, logger)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, e *effect.Effect) error {
		return sender.Send(ctx, e.Type, e)
	}, nil
}

// newServer wires middleware and routes. Catalog routes need no database;
// observation and external event routes run on an instance-scoped
// connection.
func newServer(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, catalog *valueset.Catalog) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, db.InstanceHeader},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware([]byte(cfg.AuthSigningKey)))
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// API groups
	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 || rateLimitCfg.BurstSize <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	fhirGroup.Use(middleware.RateLimit(rateLimitCfg))

	// Catalog
	plugin.NewRegistry(valueset.NewHandler(catalog)).RegisterRoutes(apiV1, fhirGroup)

	// Instance data
	instance := db.InstanceMiddleware(pool, cfg.DefaultInstance)
	obsSvc := observation.NewService(observation.NewRepoPG(pool), catalog, logger)
	eventSvc := externalevent.NewService(externalevent.NewRepoPG(pool), logger)
	data := plugin.NewRegistry(
		observation.NewHandler(obsSvc),
		externalevent.NewHandler(eventSvc),
	)
	data.RegisterRoutes(apiV1.Group("", instance), fhirGroup.Group("", instance))
	logger.Debug().Strs("modules", data.Names()).Msg("data modules registered")

	return e
}
