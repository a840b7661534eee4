package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/splax/repodeploy/internal/app/migrate"
	"github.com/splax/repodeploy/internal/bus"
	httpx "github.com/splax/repodeploy/internal/http"
	"github.com/splax/repodeploy/internal/publish"
	"github.com/splax/repodeploy/internal/repository"
	"github.com/splax/repodeploy/internal/repository/memory"
	"github.com/splax/repodeploy/internal/repository/postgres"
	"github.com/splax/repodeploy/internal/repository/sqlite"
	"github.com/splax/repodeploy/internal/service/deploy"
	"github.com/splax/repodeploy/internal/service/logs"
	"github.com/splax/repodeploy/internal/source"
	"github.com/splax/repodeploy/internal/ws"
	"github.com/splax/repodeploy/pkg/config"
	"github.com/splax/repodeploy/pkg/logger"
	"github.com/splax/repodeploy/pkg/telemetry"
)

type store interface {
	repository.DeploymentRepository
	repository.HealthChecker
}

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, "repodeploy-api", cfg.OTLPEndpoint)
	if err != nil {
		log.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	repo, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open deployment store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	publisher, err := newPublisher(ctx, cfg)
	if err != nil {
		log.Error("failed to configure publisher", "mode", cfg.DeploymentMode, "error", err)
		os.Exit(1)
	}
	if cfg.IsSimulationMode() && cfg.DeploymentMode != config.ModeSimulation {
		log.Warn("unknown deployment mode, falling back to simulation", "mode", cfg.DeploymentMode)
	}
	log.Info("publisher configured", "mode", cfg.DeploymentMode, "provider", publisher.Name())

	fetcher := source.NewGitHub(source.GitHubOptions{
		BaseURL:         cfg.GitHubAPIURL,
		Token:           cfg.GitHubToken,
		Timeout:         cfg.GitHubTimeout,
		MaxArchiveBytes: int64(cfg.GitHubMaxArchiveMB) << 20,
	})

	var events deploy.EventPublisher
	if url := strings.TrimSpace(cfg.NATSURL); url != "" {
		b, err := bus.New(url)
		if err != nil {
			log.Warn("event bus unavailable", "url", url, "error", err)
		} else {
			defer b.Close()
			events = b
		}
	}

	logSvc := logs.New(repo, ws.NewHub(), log)
	deploySvc := deploy.New(repo, fetcher, publisher, logSvc, events, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(httpx.RedisRateLimiterOptions{
			Addr:     addr,
			Password: cfg.RateLimitRedisPass,
			DB:       cfg.RateLimitRedisDB,
			Prefix:   cfg.RateLimitRedisPrefix,
		}, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	deployLimit := httpx.RateLimit{Requests: cfg.DeployRateLimit, Window: cfg.DeployRateWindow}
	router := httpx.NewRouter(log, deploySvc, logSvc, limiter, deployLimit, repo.Ping)
	defer router.Close()

	handler := cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	})(router)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           otelhttp.NewHandler(handler, "repodeploy-api"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver, "mode", cfg.DeploymentMode)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := deploySvc.Wait(shutdownCtx); err != nil {
			log.Warn("in-flight deployments abandoned", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (store, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, log)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("configure migrations: %w", err)
		}
		if err := runner.Ping(ctx); err != nil {
			runner.Close()
			return nil, nil, fmt.Errorf("database ping: %w", err)
		}
		if err := runner.Ensure(ctx); err != nil {
			runner.Close()
			return nil, nil, fmt.Errorf("migrations: %w", err)
		}
		return postgres.New(pool), runner.Close, nil
	case config.StoreSQLite:
		repo, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil
	case config.StoreMemory, "":
		return memory.New(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

func newPublisher(ctx context.Context, cfg config.APIConfig) (publish.Publisher, error) {
	switch cfg.DeploymentMode {
	case config.ModeVercel:
		// An unset token is reported per job as a configuration error.
		return publish.NewVercel(publish.VercelOptions{
			BaseURL:      cfg.VercelAPIURL,
			Token:        cfg.VercelToken,
			TeamID:       cfg.VercelTeamID,
			Timeout:      cfg.PublishTimeout,
			ReadyTimeout: cfg.VercelReadyTimeout,
		}), nil
	case config.ModeS3:
		p, err := publish.NewS3(ctx, publish.S3Options{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			ForcePathStyle: cfg.S3ForcePathStyle,
			PublicBaseURL:  cfg.S3PublicBaseURL,
			Prefix:         cfg.S3Prefix,
			Timeout:        cfg.PublishTimeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return publish.NewSimulated(cfg.SimulationDelay), nil
	}
}
