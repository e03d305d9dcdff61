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
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/api"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/config"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/logging"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/common/metrics"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/outbox"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/application"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/payment/infrastructure/postgres"
	"github.com/DmitryDubovikov/grpc-payment-ledger/internal/ratelimit"
)

// idempotencyGCInterval is how often expired idempotency keys are pruned.
const idempotencyGCInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startupCtx := logging.WithCorrelationID(ctx, logging.NewCorrelationID())
	logging.InfoContext(startupCtx, "Starting payment service",
		"grpc_port", cfg.GRPCPort,
		"metrics_port", cfg.MetricsPort,
		"environment", cfg.Environment,
	)

	pool, err := cfg.NewPostgresPool(ctx)
	if err != nil {
		logging.Error("Failed to connect to Postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	uow := postgres.NewUnitOfWork(pool)
	service := application.NewPaymentService(uow)

	serverOpts := []grpc.ServerOption{
		grpc.ForceServerCodec(api.JSONCodec{}),
	}

	interceptors := []grpc.UnaryServerInterceptor{api.MetricsInterceptor()}
	if cfg.RateLimitEnabled {
		redisClient, err := cfg.NewRedisClient(ctx)
		if err != nil {
			logging.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		limiter := ratelimit.NewSlidingWindowLimiter(
			redisClient,
			cfg.RateLimitMaxRequests,
			time.Duration(cfg.RateLimitWindowSeconds)*time.Second,
			logging.FromContext(ctx),
		)
		interceptors = append(interceptors, api.RateLimitInterceptor(limiter))
	}
	serverOpts = append(serverOpts, grpc.ChainUnaryInterceptor(interceptors...))

	grpcServer := grpc.NewServer(serverOpts...)
	api.RegisterPaymentServiceServer(grpcServer, api.NewServer(service))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	publisher := outbox.NewKafkaPublisher(cfg.BrokerList())
	defer publisher.Close()

	dispatcher := outbox.NewDispatcher(uow, publisher, outbox.Config{
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval,
		MaxRetries:   cfg.OutboxMaxRetries,
		BaseDelay:    cfg.OutboxBaseDelay,
		MaxDelay:     cfg.OutboxMaxDelay,
		TopicPrefix:  cfg.KafkaTopicPrefix,
	}, logging.FromContext(ctx))

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metrics.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		logging.Info("gRPC server listening", "addr", lis.Addr().String())
		return grpcServer.Serve(lis)
	})

	g.Go(func() error {
		<-gctx.Done()
		healthServer.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		grpcServer.GracefulStop()
		return nil
	})

	g.Go(func() error {
		logging.Info("Metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := dispatcher.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		ticker := time.NewTicker(idempotencyGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if _, err := service.DeleteExpiredIdempotencyKeys(gctx); err != nil {
					logging.Error("Idempotency key pruning failed", "error", err)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("Service terminated with error", "error", err)
		os.Exit(1)
	}

	logging.Info("Service stopped")
}
