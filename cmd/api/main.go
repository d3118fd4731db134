package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kaif394/Gymble0/internal/api"
	"github.com/kaif394/Gymble0/internal/auth"
	"github.com/kaif394/Gymble0/internal/cache"
	"github.com/kaif394/Gymble0/internal/config"
	"github.com/kaif394/Gymble0/internal/domain"
	"github.com/kaif394/Gymble0/internal/outbox"
	"github.com/kaif394/Gymble0/internal/persistence/memory"
	"github.com/kaif394/Gymble0/internal/persistence/postgres"
	"github.com/kaif394/Gymble0/internal/qrtoken"
	httptransport "github.com/kaif394/Gymble0/internal/transport/http"
	"github.com/kaif394/Gymble0/internal/transport/websocket"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var (
		repo       domain.AttendanceRepository
		dispatcher *outbox.Dispatcher
	)
	switch cfg.StoreBackend {
	case config.StoreMemory:
		log.Printf("using in-memory attendance store; data is lost on restart")
		repo = memory.NewRepository()
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	default:
		log.Fatalf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	var codes domain.CodeCache = cache.NoopCodeCache{}
	if cfg.RedisURL != "" {
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		client, err := cache.NewRedisClient(pingCtx, cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
		pingCancel()
		if err != nil {
			log.Printf("redis unavailable, rendering codes without cache: %v", err)
		} else {
			defer client.Close()
			codes = cache.NewRedisCodeCache(client)
			log.Printf("code image cache connected")
		}
	}

	schedule := qrtoken.Schedule{Window: cfg.QRRotationWindow, AcceptedSlots: cfg.QRAcceptedSlots}
	service := domain.NewService(repo,
		qrtoken.NewGenerator(schedule, qrtoken.NewPNGRenderer(cfg.QRImageSize)),
		qrtoken.NewValidator(schedule),
		domain.WithDayBoundary(domain.NewDayBoundary(loc)),
		domain.WithCodeCache(codes),
		domain.WithStatsMaxDays(cfg.AttendanceStatsMaxDays),
		domain.WithConflictRetries(cfg.AttendanceConflictRetries),
	)

	stream := websocket.NewCodeStream(service, cfg.CORSOrigin)
	handler := api.NewHandler(service, stream)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.Chain(mux, httptransport.Logger(log.Printf), httptransport.CORS(cfg.CORSOrigin), authMiddleware.Wrap))

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("api metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("attendance-service listening on %s (store=%s, tz=%s)", cfg.HTTPAddress, cfg.StoreBackend, loc)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
