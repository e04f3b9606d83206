package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dbfleet/dbfleet/internal/adapter/audit"
	"github.com/dbfleet/dbfleet/internal/adapter/crypto"
	"github.com/dbfleet/dbfleet/internal/adapter/engine"
	"github.com/dbfleet/dbfleet/internal/adapter/engine/mysql"
	"github.com/dbfleet/dbfleet/internal/adapter/engine/postgres"
	"github.com/dbfleet/dbfleet/internal/adapter/engine/probe"
	"github.com/dbfleet/dbfleet/internal/adapter/engine/sqlserver"
	"github.com/dbfleet/dbfleet/internal/adapter/httpserver"
	"github.com/dbfleet/dbfleet/internal/adapter/notify"
	"github.com/dbfleet/dbfleet/internal/adapter/store"
	"github.com/dbfleet/dbfleet/internal/adapter/store/migrations"
	"github.com/dbfleet/dbfleet/internal/config"
	"github.com/dbfleet/dbfleet/internal/core/domain"
	"github.com/dbfleet/dbfleet/internal/core/port"
	"github.com/dbfleet/dbfleet/internal/core/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting dbfleet-server",
		slog.String("log_level", cfg.LogLevel.String()),
		slog.String("listen_addr", cfg.ListenAddr),
		slog.Int("engine_hosts", len(cfg.Engines)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to control-plane database: %w", err)
	}
	defer pool.Close()

	if err := runMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database migrations applied")

	encryptor, err := crypto.NewAESEncryptor(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	st := store.New(pool)
	instanceRepo := store.NewInstanceRepository(st)
	engineRepo := store.NewEngineRepository(st)
	planRepo := store.NewPlanRepository(st)
	auditRepo := store.NewAuditRepository(st)

	auditLogger := audit.NewBatchLogger(auditRepo, logger)
	defer auditLogger.Close()

	var notifier port.LifecycleNotifier = notify.Noop{}
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL, logger)
		logger.Info("lifecycle webhook enabled")
	}

	validator := domain.NewValidator()
	registry := buildRegistry(cfg, encryptor, validator, logger)

	quotaSvc := service.NewQuotaService(planRepo, instanceRepo, logger)
	instanceSvc := service.NewInstanceService(instanceRepo, engineRepo, quotaSvc,
		registry, encryptor, validator, auditLogger, notifier, logger)
	querySvc := service.NewQueryService(instanceRepo, registry, validator, auditLogger, logger)
	adminSvc := service.NewAdminService(engineRepo, auditRepo, quotaSvc, logger)

	srv := httpserver.New(httpserver.Config{
		ListenAddr:        cfg.ListenAddr,
		AdminSecret:       cfg.AdminSecret,
		RateLimitRPS:      cfg.RateLimitRPS,
		RateLimitBurst:    cfg.RateLimitBurst,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, instanceSvc, querySvc, adminSvc, st, logger)

	// Second signal during shutdown = hard exit.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		select {
		case sig := <-sigCh:
			logger.Warn("forced shutdown", slog.String("signal", sig.String()))
			os.Exit(1)
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe()
	})

	// Shutdown trigger: when ctx is cancelled (signal or component failure),
	// gracefully stop the HTTP server.
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// buildRegistry creates one adapter per configured engine host. MariaDB
// rides the MySQL adapter; the registry aliases it.
func buildRegistry(cfg *config.Config, encryptor port.Encryptor, validator *domain.Validator, logger *slog.Logger) *engine.Registry {
	var adapters []port.EngineAdapter
	for engineType, host := range cfg.Engines {
		hc := engine.HostConfig{
			Host:           host.Host,
			Port:           host.Port,
			AdminUser:      host.AdminUser,
			AdminPassword:  host.AdminPassword,
			ConnectTimeout: host.ConnectTimeout,
			CommandTimeout: host.CommandTimeout,
			MaxRows:        host.MaxRows,
		}
		switch domain.EngineType(engineType) {
		case domain.EngineMySQL:
			adapters = append(adapters, mysql.New(hc, encryptor, validator, logger))
		case domain.EngineMariaDB:
			adapters = append(adapters, mysql.NewMariaDB(hc, encryptor, validator, logger))
		case domain.EnginePostgreSQL:
			adapters = append(adapters, postgres.New(hc, encryptor, validator, logger))
		case domain.EngineSQLServer:
			adapters = append(adapters, sqlserver.New(hc, encryptor, validator, logger))
		case domain.EngineRedis:
			adapters = append(adapters, probe.NewRedis(hc, encryptor, logger))
		case domain.EngineMongoDB:
			adapters = append(adapters, probe.NewMongo(hc, encryptor, logger))
		case domain.EngineCassandra:
			adapters = append(adapters, probe.NewCassandra(hc, encryptor, logger))
		}
	}
	return engine.NewRegistry(adapters...)
}

// runMigrations applies goose migrations from the embedded migration files.
func runMigrations(dbURL string) error {
	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("opening db for migrations: %w", err)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	return nil
}
