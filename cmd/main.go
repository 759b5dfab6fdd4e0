/**
 * @description
 * Entry point for the refund-service. Wires configuration, the Postgres
 * connection pool, the session resolver, the realtime gateway, the event sink
 * strategy, the delivery worker and the HTTP API, then serves until shutdown.
 *
 * Mode selection happens once, here:
 * - QUEUE_ENABLED with a reachable database selects the durable queued sink
 *   plus its worker; otherwise events dispatch directly to the gateway.
 * - A reachable RabbitMQ broker upgrades emission to the cross-instance
 *   relay; without it delivery stays local to this process.
 */
package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/refundly/refund-service/internal/api"
	"github.com/refundly/refund-service/internal/app"
	"github.com/refundly/refund-service/internal/auth"
	"github.com/refundly/refund-service/internal/config"
	"github.com/refundly/refund-service/internal/gateway"
	"github.com/refundly/refund-service/internal/store"
	"github.com/refundly/refund-service/pkg/rabbitmq"
)

func maskAMQPURLForLog(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		u.User = url.UserPassword("****", "****")
	}
	return u.String()
}

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	// If a platform-provided PORT is set (e.g., Railway/Render), prefer it
	if port := os.Getenv("PORT"); port != "" {
		cfg.ServerPort = port
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8090"
	}

	// Establish database connection pool with better configuration
	dbConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Unable to parse database URL: %v\n", err)
	}
	dbConfig.MaxConns = 10
	dbConfig.MinConns = 2
	dbConfig.MaxConnLifetime = 30 * time.Minute
	dbConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	dbConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer dbpool.Close()
	log.Println("Database connection established")

	if err := store.EnsureSchema(context.Background(), dbpool); err != nil {
		log.Printf("Warning: failed ensuring tables (may already exist): %v", err)
	}

	// Session resolver: Redis-backed sessions when configured, JWT otherwise.
	var resolver auth.SessionResolver
	if cfg.SessionStore == "redis" && cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Unable to parse Redis URL: %v\n", err)
		}
		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Unable to connect to Redis: %v\n", err)
		}
		defer redisClient.Close()
		resolver = auth.NewRedisResolver(redisClient, "")
		log.Println("Redis session store connected")
	} else {
		if cfg.SessionJWTSecret == "" {
			log.Fatal("SESSION_JWT_SECRET is required when SESSION_STORE is jwt")
		}
		resolver = auth.NewJWTResolver(cfg.SessionJWTSecret)
	}

	// Realtime gateway and optional cross-instance relay.
	gw := gateway.New(resolver, time.Duration(cfg.HeartbeatSeconds)*time.Second)

	var emitter app.Emitter = gw
	if cfg.RabbitMQURL != "" {
		log.Printf("RABBITMQ_URL (masked)=%s", maskAMQPURLForLog(cfg.RabbitMQURL))
		producer, err := rabbitmq.NewRelayProducer(cfg.RabbitMQURL, cfg.EventsExchange)
		if err != nil {
			log.Printf("WARNING: Failed to connect to RabbitMQ at startup: %v. Continuing without relay.", err)
		} else {
			defer producer.Close()
			relay := gateway.NewRelayEmitter(gw, producer)
			emitter = relay

			consumer, err := rabbitmq.NewRelayConsumer(cfg.RabbitMQURL)
			if err != nil {
				log.Printf("WARNING: Failed to start relay consumer: %v. Outbound relay only.", err)
			} else {
				defer consumer.Close()
				queueName := "refund.realtime." + relay.InstanceID()
				if err := consumer.Consume(cfg.EventsExchange, queueName, relay.HandleFrame); err != nil {
					log.Printf("WARNING: Relay consume setup failed: %v. Outbound relay only.", err)
				} else {
					log.Println("RabbitMQ realtime relay connected")
				}
			}
		}
	}

	repo := store.NewPostgresRepository(dbpool)
	queueRepo := store.NewPostgresQueueRepository(dbpool)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	// Event sink strategy, selected once at startup.
	direct := app.NewDirectSink(emitter)
	var sink app.EventSink = direct
	if cfg.QueueEnabled {
		sink = app.NewQueuedSink(queueRepo, direct)
		worker := app.NewWorker(queueRepo, emitter, app.WorkerOptions{
			Concurrency:            cfg.QueueWorkerConcurrency,
			MaxAttempts:            cfg.QueueMaxAttempts,
			PollInterval:           time.Duration(cfg.QueuePollIntervalMS) * time.Millisecond,
			StaleProcessingSeconds: cfg.QueueStaleProcessingSecond,
			CompletedRetention:     time.Duration(cfg.QueueRetentionMinutes) * time.Minute,
		})
		go worker.Run(workerCtx)
		log.Println("Durable delivery queue enabled")
	} else {
		log.Println("Durable queue disabled; events dispatch directly")
	}

	service := app.NewService(repo, sink)
	router := api.NewRouter(service, resolver, gw.Handler())

	// Start the server
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not start server: %s\n", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	stopWorker()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}

	log.Println("Server gracefully stopped")
}
