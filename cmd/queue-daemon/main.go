// cmd/queue-daemon/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"lending-queue/internal/api"
	"lending-queue/internal/common/aws"
	"lending-queue/internal/common/config"
	"lending-queue/internal/common/database"
	"lending-queue/internal/common/logger"
	"lending-queue/internal/common/observability"
	"lending-queue/internal/directory"
	"lending-queue/internal/models"
	"lending-queue/internal/notify"
	"lending-queue/internal/queue/payout"
	"lending-queue/internal/queue/session"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logger.New("info", "console")
		fallback.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting queue daemon...",
		zap.String("backend", cfg.Directory.Backend),
		zap.String("address", cfg.Server.Address),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Build the application directory ---
	var dir directory.Directory
	var closers []func()

	switch cfg.Directory.Backend {
	case "postgres":
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Directory.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		closers = append(closers, func() { pg.Close() })
		zapLog.Info("PostgreSQL connected successfully")

		var search *directory.Search
		if cfg.Directory.Elasticsearch.Enabled {
			var esClient *database.ElasticsearchClient
			err = retryWithBackoff(func() error {
				var err error
				esClient, err = database.NewElasticsearch(cfg.Directory.Elasticsearch)
				if err != nil {
					return err
				}
				return esClient.Ping()
			}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
			if err != nil {
				zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
			}
			search = directory.NewSearch(esClient.Client, cfg.Directory.Elasticsearch.Index)
			zapLog.Info("Elasticsearch connected successfully")
		}

		dir = directory.NewPostgresDirectory(pg.DB, search, log)

	case "http":
		dir = directory.NewHTTPDirectory(
			cfg.Directory.HTTP.BaseURL,
			cfg.Directory.HTTP.APIKey,
			time.Duration(cfg.Directory.HTTP.Timeout)*time.Millisecond,
			log,
		)

	default:
		zapLog.Fatal("unknown directory backend", zap.String("backend", cfg.Directory.Backend))
	}

	// --- Stats cache over Redis ---
	var stats session.StatsInvalidator
	if cfg.Directory.Redis.Address != "" {
		var rdb *database.RedisClient
		err = retryWithBackoff(func() error {
			var err error
			rdb, err = database.NewRedis(cfg.Directory.Redis)
			if err != nil {
				return err
			}
			return rdb.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		closers = append(closers, func() { rdb.Close() })
		zapLog.Info("Redis connected successfully")

		cache := directory.NewStatsCache(dir, rdb.Client,
			time.Duration(cfg.Directory.StatsCacheTTL)*time.Second, log)
		dir = cache
		stats = cache
	}

	// --- Batch summary notifications ---
	var notifier *notify.Notifier
	if cfg.Notifications.Enabled {
		sesClient, err := aws.NewSESClient(ctx, cfg.Notifications.AWSRegion)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		snsClient, err := aws.NewSNSClient(ctx, cfg.Notifications.AWSRegion)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		notifier = notify.New(cfg.Notifications, sesClient, snsClient, log)
		zapLog.Info("Batch notifications enabled")
	}

	// --- Session ---
	rc := roleFromEnv()
	hooks := session.Hooks{}
	if notifier != nil {
		hooks.Payout = payout.Callbacks{
			OnComplete: func(result payout.BatchResult) {
				notifier.BatchCompleted(context.Background(), result)
			},
		}
	}

	sess := session.New(cfg.Queue, rc, dir, log, hooks, session.Options{
		Pinned: models.Status(os.Getenv("QUEUE_PINNED_STATUS")),
		Stats:  stats,
		Obs:    obs,
	})

	if err := sess.Refresh(ctx); err != nil {
		// Non-fatal: the first page loads on the next request.
		log.WithError(err).Warn("initial page fetch failed", nil)
	}

	// --- API Server ---
	mux := http.NewServeMux()
	api.NewServer(sess, log).Routes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	apiServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.RequestTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.Server.RequestTimeout) * time.Millisecond,
	}
	go func() {
		zapLog.Info("API server listening", zap.String("address", cfg.Server.Address))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("API server failed", zap.Error(err))
		}
	}()

	// --- Metrics / pprof Server ---
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Metrics server listening", zap.String("address", cfg.Server.MetricsAddress))
		if err := http.ListenAndServe(cfg.Server.MetricsAddress, nil); err != nil {
			zapLog.Error("Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("API server shutdown failed", zap.Error(err))
	}
	for _, closeFn := range closers {
		closeFn()
	}

	zapLog.Info("Queue daemon stopped gracefully")
}

// roleFromEnv reads the daemon session's role context. The daemon fronts one
// admin identity; multi-tenant deployments run one daemon per role.
func roleFromEnv() models.RoleContext {
	rc := models.RoleContext{
		Role:    models.Role(os.Getenv("QUEUE_ROLE")),
		AdminID: os.Getenv("QUEUE_ADMIN_ID"),
	}
	if rc.Role == "" {
		rc.Role = models.RoleAdmin
	}
	if rc.Role == models.RoleSubAdmin {
		rc.SubAdminCategory = models.SubAdminCategory(os.Getenv("QUEUE_SUB_ADMIN_CATEGORY"))
	}
	return rc
}
