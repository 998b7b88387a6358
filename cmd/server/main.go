package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-ops-approvals/internal/client"
	"github.com/pesio-ai/be-ops-approvals/internal/handler"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/config"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/database"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/middleware"
	"github.com/pesio-ai/be-ops-approvals/internal/platform/tracing"
	"github.com/pesio-ai/be-ops-approvals/internal/repository"
	"github.com/pesio-ai/be-ops-approvals/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("store", cfg.Store.Backend).
		Msg("Starting Approvals Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Service.Name, cfg.Service.Version, cfg.Telemetry.Endpoint, cfg.Telemetry.Enabled)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	// Initialize storage
	var (
		store repository.Store
		db    *database.DB
	)
	switch cfg.Store.Backend {
	case "memory":
		store = repository.NewMemoryStore()
		log.Warn().Msg("Using in-memory store; state is lost on restart")
	default:
		db, err = database.New(ctx, database.Config{
			DSN:         cfg.Database.DSN(),
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		log.Info().Msg("Database connection established")

		if cfg.Database.Migrate {
			if err := db.ApplyMigrations(ctx, repository.Migrations, repository.MigrationsRoot); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply migrations")
			}
			log.Info().Msg("Database migrations applied")
		}
		store = repository.NewPostgresStore(db)
	}

	// Initialize notifications
	var notifier service.Notifier = client.NewLogNotifier(log.Named("notifications"))
	if cfg.NATS.URL != "" {
		publisher, err := client.NewNotificationPublisher(ctx, client.PublisherConfig{
			URL:           cfg.NATS.URL,
			Stream:        cfg.NATS.Stream,
			SubjectPrefix: cfg.NATS.Subject,
			ClientName:    cfg.Service.Name,
		}, log.Named("notifications"))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create notification publisher")
		}
		defer publisher.Close()
		notifier = publisher
	}

	// Initialize services
	versions := service.NewVersionStore(store, log.Named("versions"))
	templates := service.NewTemplateService(store, log.Named("templates"))
	gate := service.NewChecklistGate(store, log.Named("checklist"))
	engine := service.NewLevelEngine(store, log.Named("levels"))
	orch := service.NewOrchestrator(
		store,
		engine,
		service.NewRevisionTracker(store, log.Named("revisions")),
		templates,
		notifier,
		log.Named("workflows"),
	)

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				http.Error(w, `{"status":"unhealthy"}`, http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})
	handler.NewHTTPHandler(versions, templates, orch, gate, engine, log.Named("http")).Register(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)
	h = middleware.CORS(cfg.Server.AllowedOrigins)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.RequestID(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Setup gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	handler.NewGRPCHandler(orch, log).Register(grpcServer)
	healthServer := health.NewServer()
	healthServer.SetServingStatus(handler.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		healthServer.Shutdown()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		grpcServer.GracefulStop()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Tracer shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
	}
	log.Info().Msg("Server stopped")
}
