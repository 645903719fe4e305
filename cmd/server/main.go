package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/authclient"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/config"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/database"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/handler"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/middleware"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/queue"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/repository"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/router"
	queue_publisher "github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/service"
)

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	return logger
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	auth, err := authclient.New(authclient.Config{
		URL:     cfg.ServiceURL,
		AnonKey: cfg.AnonKey,
		Cookie: authclient.CookieConfig{
			Domain:   cfg.Cookie.Domain,
			Secure:   cfg.Cookie.Secure,
			SameSite: cfg.Cookie.SameSite,
			MaxAge:   cfg.Cookie.MaxAge,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("auth client configuration", zap.Error(err))
	}

	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	rdb := config.NewRedisClient(logger)
	if rdb != nil {
		defer rdb.Close()
	}

	var events handler.EventPublisher = queue_publisher.Nop{}
	if os.Getenv("RABBITMQ_URL") != "" || os.Getenv("AMQP_URL") != "" {
		pub := queue_publisher.NewAMQPPublisher(queue.BrokerURL(), logger)
		defer pub.Close()
		events = pub
	}
	if cfg.AuditConsumer {
		go queue.StartAuditConsumer("logs", logger)
	}

	profiles := repository.NewProfileRepo(db)
	listings := repository.NewListingRepo(db)

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.SessionBridge(middleware.SessionBridgeConfig{
		Client:   auth,
		Profiles: profiles,
		Logger:   logger,
	}))

	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, logger)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb, logger)

	authH := handler.NewAuthHandler(auth, profiles, logger)
	authH.SiteURL = cfg.SiteURL
	listingH := handler.NewListingHandler(listings, profiles, events, auth, logger)
	dashH := handler.NewDashboardHandler(profiles, listings, events, logger)
	adminH := handler.NewAdminHandler(listings, profiles, events, logger)

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, authH, limit)
	router.RegisterPublic(e, listingH, cache)
	router.RegisterDashboard(e, dashH, listingH, profiles, logger, limit)
	router.RegisterAdmin(e, adminH, profiles, logger)

	addr := ":" + cfg.Port
	go func() {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown", zap.Error(err))
	}
}
