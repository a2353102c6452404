package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"cubis-academy/cache"
	"cubis-academy/config"
	"cubis-academy/handlers"
	"cubis-academy/middleware"
	"cubis-academy/services"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(os.Stdout)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := services.OpenDatabase(cfg)
	if err != nil {
		return err
	}
	if err := services.AutoMigrate(db); err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	sessionCache, closeCache, err := openCache(initCtx, cfg, db)
	if err != nil {
		return err
	}
	defer closeCache()

	users := services.NewUserService(db, slog.Default())
	sessions := services.NewSessionManager(db, sessionCache, users, services.WithLogger(slog.Default()))
	hub := services.NewHub(slog.Default())

	// Notifications are persisted only when MongoDB is configured
	var store services.NotificationStore
	if cfg.MongoURI != "" {
		client, err := services.InitMongoDB(initCtx, cfg.MongoURI)
		if err != nil {
			slog.Error("Failed to connect to MongoDB, notifications will be live only", "error", err)
		} else {
			defer client.Disconnect(context.Background())
			mongoStore, err := services.NewMongoNotificationStore(initCtx, client, cfg.DatabaseName)
			if err != nil {
				slog.Error("Failed to prepare notification store", "error", err)
			} else {
				store = mongoStore
			}
		}
	}

	purgers := purgersFor(sessionCache)
	services.StartSessionCleanup(ctx, slog.Default(), sessions, cfg.SweepInterval, purgers...)

	h := &handlers.Handler{
		Sessions:      sessions,
		Users:         users,
		Notifications: services.NewNotificationService(store, hub, slog.Default()),
		Hub:           hub,
		Analytics:     services.NewAnalytics(db),
		Limiter:       services.NewLoginLimiter(cfg.LoginAttemptsPerMinute),
		Purgers:       purgers,
		CookieName:    cfg.SessionCookieName,
		CookieSecure:  cfg.CookieSecure,
		CacheBackend:  sessionCache.Name(),
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path}\n",
	}))

	handlers.RegisterRoutes(app, h, middleware.NewAuth(sessions, users, cfg.SessionCookieName))

	go func() {
		<-ctx.Done()
		slog.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	slog.Info("Server starting", "port", cfg.Port)
	return app.Listen(":" + cfg.Port)
}

// openCache builds the configured session cache and returns a function that
// releases it.
func openCache(ctx context.Context, cfg *config.Config, db *gorm.DB) (cache.Cache, func(), error) {
	c, err := cache.New(ctx, cfg.CacheBackend, cache.Options{
		RedisURL:         cfg.RedisURL,
		DB:               db,
		MemoryCacheBytes: cfg.MemoryCacheBytes,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Session cache ready", "backend", c.Name())

	closeFn := func() {}
	if r, ok := c.(*cache.Redis); ok {
		closeFn = func() {
			if err := r.Close(); err != nil {
				slog.Error("Failed to close redis", "error", err)
			}
		}
	}
	return c, closeFn, nil
}

// purgersFor returns the housekeeping a sweep should run for c.
func purgersFor(c cache.Cache) []services.Purger {
	if dbCache, ok := c.(*cache.Database); ok {
		return []services.Purger{dbCache}
	}
	return nil
}
