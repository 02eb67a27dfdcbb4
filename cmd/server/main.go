package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-workflow-engine/internal/client"
	"github.com/pesio-ai/be-workflow-engine/internal/config"
	"github.com/pesio-ai/be-workflow-engine/internal/database"
	"github.com/pesio-ai/be-workflow-engine/internal/handler"
	"github.com/pesio-ai/be-workflow-engine/internal/lock"
	"github.com/pesio-ai/be-workflow-engine/internal/logger"
	"github.com/pesio-ai/be-workflow-engine/internal/metrics"
	"github.com/pesio-ai/be-workflow-engine/internal/middleware"
	"github.com/pesio-ai/be-workflow-engine/internal/repository"
	"github.com/pesio-ai/be-workflow-engine/internal/service"
	"github.com/pesio-ai/be-workflow-engine/internal/workflow"
)

// stores bundles the persistence backends the services run on.
type stores struct {
	requests   service.RequestStore
	orders     service.OrderStore
	audit      service.AuditStore
	categories *repository.CategoryRepository
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Backend).
		Msg("Starting Workflow Engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New(metrics.DefaultConfig(cfg.Service.Name))

	// Initialize persistence
	st, closeStore, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer closeStore()

	policy, err := loadPolicy(ctx, cfg, st, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load expense categories")
	}
	log.Info().Int("categories", policy.Len()).Str("source", cfg.Workflow.CategoriesSource).Msg("Expense categories loaded")

	planner := workflow.RoutePlanner{
		DepartmentHeadAbove: cfg.Workflow.DepartmentHeadAbove,
		FinanceLeadAbove:    cfg.Workflow.FinanceLeadAbove,
		GeneralManagerAbove: cfg.Workflow.GeneralManagerAbove,
	}

	locker, closeLocker, err := newLocker(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize entity locks")
	}
	defer closeLocker()

	// Notifications
	publisher, nc, err := client.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, cfg.Service.Name, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	if nc != nil {
		defer nc.Close()
		log.Info().Str("url", cfg.NATS.URL).Msg("Notification publisher connected")
	}

	// Initialize services
	approvalService := service.NewApprovalService(st.requests, st.audit, locker, publisher,
		policy, planner, client.NewRoleDirectory(nil), m, log.Component("approvals"))
	orderService := service.NewOrderService(st.orders, st.audit, locker, publisher, m, log.Component("orders"))

	// Setup HTTP routes
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(log.Logger)...)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(m))
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))

	r.Handle("/metrics", m.Handler())
	handler.NewHTTPHandler(approvalService, orderService, log).Register(r)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(middleware.UnaryServerInterceptor(log.Logger, m)))
	handler.NewGRPCHandler(approvalService, orderService, log.Logger).Register(grpcServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}

// openStores connects the configured backend. The returned func releases it.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, func(), error) {
	if cfg.Store.Backend == "memory" {
		mem := repository.NewMemoryStore()
		log.Warn().Msg("Using in-memory store; data is lost on restart")
		return &stores{requests: mem.Requests, orders: mem.Orders, audit: mem.Audit}, func() {}, nil
	}

	db, err := database.New(ctx, database.Config{
		Host:        cfg.Database.Host,
		Port:        cfg.Database.Port,
		User:        cfg.Database.User,
		Password:    cfg.Database.Password,
		Database:    cfg.Database.Database,
		SSLMode:     cfg.Database.SSLMode,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	log.Info().Msg("Database connection established")

	return &stores{
		requests:   repository.NewApprovalRequestRepository(db),
		orders:     repository.NewOrderRepository(db),
		audit:      repository.NewAuditRepository(db),
		categories: repository.NewCategoryRepository(db),
	}, db.Close, nil
}

// loadPolicy reads the category table from the YAML file, or from the
// database when configured. An empty table is seeded from the file first.
func loadPolicy(ctx context.Context, cfg *config.Config, st *stores, log *logger.Logger) (*workflow.CategoryPolicy, error) {
	if cfg.Workflow.CategoriesSource != "database" {
		return workflow.LoadCategoryPolicyFile(cfg.Workflow.CategoriesFile)
	}

	rules, err := st.categories.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		seed, err := workflow.LoadCategoryPolicyFile(cfg.Workflow.CategoriesFile)
		if err != nil {
			return nil, fmt.Errorf("load seed categories: %w", err)
		}
		if err := st.categories.Upsert(ctx, seed.Rules()); err != nil {
			return nil, err
		}
		log.Info().Int("categories", seed.Len()).Msg("Seeded expense categories table")
		return seed, nil
	}
	return workflow.NewCategoryPolicy(rules)
}

// newLocker returns a redis-backed locker when an address is configured and a
// process-local one otherwise.
func newLocker(ctx context.Context, cfg *config.Config, log *logger.Logger) (lock.Locker, func(), error) {
	if cfg.Redis.Addr == "" {
		log.Info().Msg("REDIS_ADDR not set, using in-process entity locks")
		return lock.NewLocalLocker(), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}
	log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.LockTTL).Msg("Redis entity locks enabled")

	return lock.NewRedisLocker(rdb, cfg.Redis.LockTTL), func() { _ = rdb.Close() }, nil
}
