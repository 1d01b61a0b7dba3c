package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/bryanwahyu/verification-orchestrator/internal/application"
	"github.com/bryanwahyu/verification-orchestrator/internal/application/executors"
	"github.com/bryanwahyu/verification-orchestrator/internal/application/orchestration"
	appsm "github.com/bryanwahyu/verification-orchestrator/internal/application/statemachine"
	apptasks "github.com/bryanwahyu/verification-orchestrator/internal/application/tasks"
	"github.com/bryanwahyu/verification-orchestrator/internal/config"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/executionlog"
	domain "github.com/bryanwahyu/verification-orchestrator/internal/domain/statemachine"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/verificationtask"
	"github.com/bryanwahyu/verification-orchestrator/internal/domain/workertask"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/verification-orchestrator/internal/infra/db/mysql"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/db/postgres"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/events"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/execlog"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/httpserver"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/lock"
	"github.com/bryanwahyu/verification-orchestrator/internal/infra/metrics"
	minioStore "github.com/bryanwahyu/verification-orchestrator/internal/infra/storage"
	"github.com/bryanwahyu/verification-orchestrator/internal/logger"
	"github.com/bryanwahyu/verification-orchestrator/internal/middleware"
)

// repositories satu set repo sesuai driver database
type repositories struct {
	db            *sql.DB
	orchestrators domain.OrchestratorRepository
	stateMachines domain.StateMachineRepository
	tasks         verificationtask.Repository
	workerTasks   workertask.Repository
	logs          executionlog.Repository
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, error) {
	switch cfg.Database.Driver {
	case "memory":
		return &repositories{
			orchestrators: memory.NewOrchestratorRepo(),
			stateMachines: memory.NewStateMachineRepo(),
			tasks:         memory.NewVerificationTaskRepo(),
			workerTasks:   memory.NewWorkerTaskRepo(),
			logs:          memory.NewExecutionLogRepo(),
		}, nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if cfg.Database.Migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &repositories{
			db:            db,
			orchestrators: postgres.NewOrchestratorRepo(db),
			stateMachines: postgres.NewStateMachineRepo(db),
			tasks:         postgres.NewVerificationTaskRepo(db),
			workerTasks:   postgres.NewWorkerTaskRepo(db),
			logs:          postgres.NewExecutionLogRepo(db),
		}, nil
	default:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		if cfg.Database.Migrate {
			if err := mysqlp.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &repositories{
			db:            db,
			orchestrators: mysqlp.NewOrchestratorRepo(db),
			stateMachines: mysqlp.NewStateMachineRepo(db),
			tasks:         mysqlp.NewVerificationTaskRepo(db),
			workerTasks:   mysqlp.NewWorkerTaskRepo(db),
			logs:          mysqlp.NewExecutionLogRepo(db),
		}, nil
	}
}

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		zl.Fatal("database init failed", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	checkers := map[string]middleware.HealthChecker{}
	required := []string{"driver"}
	if repos.db != nil {
		defer repos.db.Close()
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: repos.db}
		required = append(required, "database")
	}

	// redis opsional: tanpa redis lock hanya berlaku di proses ini
	var (
		locker    domain.Locker         = lock.NewLocal()
		publisher domain.EventPublisher = events.Noop{}
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locker = lock.NewRedis(rdb, "verification:lock:")
		publisher = events.NewStreamPublisher(rdb, cfg.Redis.Stream)
		checkers["redis"] = &middleware.RedisHealthChecker{Client: rdb}
	} else {
		zl.Warn("redis not configured, using in-process lock and no event bus")
	}

	var archive executors.ResultArchive
	if cfg.Minio.Endpoint != "" {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			zl.Fatal("minio init failed", zap.Error(err))
		}
		archive = store
		checkers["minio"] = store
	}

	clock := application.SystemClock{}
	sink := execlog.New(repos.logs, zl.Named("execution"))
	promMetrics := metrics.Prometheus{}
	o := cfg.Orchestration

	execs, err := appsm.NewExecutorRegistry(executors.New(executors.Deps{
		Tasks:      repos.workerTasks,
		Archive:    archive,
		Clock:      clock,
		MaxRetries: o.MaxRetries,
		Logger:     zl.Named("executor"),
	}))
	if err != nil {
		zl.Fatal("executor registry", zap.Error(err))
	}
	factories, err := appsm.NewFactoryRegistry(appsm.DefaultFactories(appsm.IgnoreWindows{
		LiveMonitoring: o.IgnoreWindows.LiveMonitoring,
		Deployment:     o.IgnoreWindows.Deployment,
		Demo:           o.IgnoreWindows.Demo,
		SLI:            o.IgnoreWindows.SLI,
	}, clock))
	if err != nil {
		zl.Fatal("factory registry", zap.Error(err))
	}

	smSvc := &appsm.Service{
		Repo:      repos.stateMachines,
		Executors: execs,
		Logs:      sink,
		Metrics:   promMetrics,
		Clock:     clock,
		Backoff:   appsm.BackoffPolicy{Initial: o.RetryBackoffBase, Max: o.RetryBackoffMax},
		Logger:    zl.Named("statemachine"),
	}
	orchSvc := &orchestration.Service{
		Orchestrators: repos.orchestrators,
		StateMachines: smSvc,
		Factories:     factories,
		Tasks:         repos.tasks,
		FailFast:      orchestration.FailFastPolicy{Tasks: repos.tasks, WorkerTasks: repos.workerTasks},
		Events:        publisher,
		Locker:        locker,
		Logs:          sink,
		Metrics:       promMetrics,
		Clock:         clock,
		Config: orchestration.Config{
			LockWait:         o.LockWait,
			LockHold:         o.LockHold,
			IgnoreLimit:      o.IgnoreLimit,
			BacklogThreshold: o.BacklogThreshold,
			Retention:        o.Retention,
		},
		Logger: zl.Named("orchestrator"),
	}
	taskSvc := &apptasks.Service{
		Tasks:       repos.tasks,
		WorkerTasks: repos.workerTasks,
		Logs:        repos.logs,
		Clock:       clock,
	}

	driver := &orchestration.Driver{
		Service:       orchSvc,
		Orchestrators: repos.orchestrators,
		Metrics:       promMetrics,
		Interval:      o.PollInterval,
		BatchSize:     o.BatchSize,
		Workers:       o.PoolSize,
		Logger:        zl.Named("driver"),
	}
	checkers["driver"] = driver
	go func() {
		if err := driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zl.Error("orchestration driver stopped", zap.Error(err))
		}
	}()

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				limiter.Cleanup(now)
			}
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: httpserver.NewRouter(orchSvc, smSvc, taskSvc, httpserver.Options{
			APIKeys:        cfg.Server.APIKeys,
			WorkerKeys:     cfg.Server.WorkerKeys,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			RateLimiter:    limiter,
			HealthCheckers: checkers,
			RequiredChecks: required,
			Logger:         zl.Named("http"),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("server listening", zap.String("addr", addr), zap.String("driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	zl.Info("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		zl.Error("shutdown error", zap.Error(err))
	}
}
