package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"syncbridge/internal/admin"
	"syncbridge/internal/auth"
	"syncbridge/internal/config"
	"syncbridge/internal/engine"
	"syncbridge/internal/metadata"
	"syncbridge/internal/metrics"
	"syncbridge/internal/receiver"
	"syncbridge/internal/store"
	"syncbridge/internal/trigger"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, driver: %s, db: %s, webhook mode: %s)",
		cfg.Server.Port, cfg.Database.Driver, cfg.Database.Name, cfg.Webhook.Mode)

	// 2. Connect to database. Execution logs get their own handle so a log
	// write never joins a business transaction.
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	logDB, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open log store: %v", err)
	}
	defer logDB.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Create registry and load metadata
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db.DB, reg); err != nil {
		log.Printf("WARN: Failed to load metadata: %v", err)
	}
	migrator := store.NewMigrator(db)

	// 5. Metrics
	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.Metrics.Enabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
	}

	// 6. Webhook delivery
	dispatcher := trigger.NewDispatcher(cfg.Webhook.Timeout())
	execLogger := trigger.NewExecutionLogger(logDB, sink)
	var pool *trigger.Pool
	if cfg.Webhook.Mode == config.ModeAsync {
		pool = trigger.NewPool(cfg.Webhook.Workers, cfg.Webhook.QueueSize, sink)
	}
	executor := trigger.NewExecutor(dispatcher, execLogger, pool, cfg.Webhook.Mode, sink)
	pipeline := trigger.NewPipeline(reg, executor)

	// 7. Receiver
	locker, closeLocker := newLocker(cfg)
	defer closeLocker()
	resolver := receiver.NewTypeResolver(reg, receiver.NewMappingTable(cfg.TypeMappings))
	reconciler := receiver.NewReconciler(db, reg, resolver, locker, sink)

	// 8. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 9. Health check and metrics
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	if cfg.Metrics.Enabled {
		app.Get(cfg.Metrics.Path, metrics.Handler(prometheus.DefaultGatherer))
	}

	// 10. Auth routes (login is public)
	authMW := auth.AuthMiddleware(cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, auth.NewAuthHandler(db, cfg.JWTSecret), authMW)

	// 11. Admin routes (JWT + admin role)
	adminHandler := admin.NewHandler(db, reg, migrator, admin.Options{
		Logs:          execLogger,
		Dispatcher:    dispatcher,
		Metrics:       sink,
		RetentionDays: cfg.Triggers.LogRetentionDays,
	})
	admin.RegisterAdminRoutes(app, adminHandler, authMW, auth.RequireAdmin())

	// 12. Receiver routes (API key or JWT with the sync role)
	receiver.RegisterRoutes(app, receiver.NewHandler(reconciler),
		auth.APIKeyOrJWT(db, cfg.JWTSecret), auth.RequireRole(metadata.RoleSync))

	// 13. Dynamic record routes; commits fire matching trigger rules
	engineHandler := engine.NewHandler(db, reg, pipeline.Hooks)
	engine.RegisterDynamicRoutes(app, engineHandler, authMW)

	// 14. One-shot log retention sweep
	go trigger.RunPurge(ctx, logDB, cfg.Triggers.LogRetentionDays, sink)

	// 15. Start server; drain queued webhook sends on shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down")
		if err := app.Shutdown(); err != nil {
			log.Printf("ERROR: shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Printf("ERROR: server stopped: %v", err)
	}
	if pool != nil {
		pool.Stop()
	}
}

func newLocker(cfg *config.Config) (receiver.KeyLocker, func()) {
	if cfg.Receiver.Lock != config.LockRedis {
		return receiver.NewMemoryLocker(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	log.Printf("Receiver using Redis lock at %s", cfg.Redis.Addr)
	return receiver.NewRedisLocker(client, cfg.Receiver.LockTTL()), func() {
		if err := client.Close(); err != nil {
			log.Printf("WARN: close redis client: %v", err)
		}
	}
}
