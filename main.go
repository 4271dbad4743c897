package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "sitesense-collector/internal/api/http"
	"sitesense-collector/internal/auth"
	masterdataapp "sitesense-collector/internal/masterdata/application"
	masterdatarepo "sitesense-collector/internal/masterdata/infrastructure/postgres"
	"sitesense-collector/internal/observability/metrics"
	"sitesense-collector/internal/telemetry/application"
	telemetrypostgres "sitesense-collector/internal/telemetry/infrastructure/postgres"
	brokermqtt "sitesense-collector/internal/telemetry/interfaces/mqtt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)
	logger.Printf("collector starting: %s", cfg)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open error: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatalf("db ping error: %v", err)
	}

	metrics.Init()

	deviceRepo := masterdatarepo.NewDeviceRepository(db)
	pointRepo := telemetrypostgres.NewPointRepository(db)
	rawRepo := telemetrypostgres.NewRawMessageRepository(db)

	var resolverOpts []masterdataapp.ResolverOption
	if cfg.CacheTTL > 0 {
		resolverOpts = append(resolverOpts, masterdataapp.WithCacheTTL(cfg.CacheTTL))
	}
	resolver, err := masterdataapp.NewDeviceResolver(deviceRepo, cfg.FallbackSiteID, logger, resolverOpts...)
	if err != nil {
		logger.Fatalf("device resolver error: %v", err)
	}

	service, err := application.NewService(application.ServiceConfig{
		Broker:         cfg.BrokerURL,
		RawAudit:       cfg.RawAudit,
		BufferCapacity: cfg.BufferCapacity,
		Flush: application.FlushConfig{
			BatchSize:  cfg.BatchSize,
			MaxRetries: cfg.FlushRetries,
			BaseDelay:  cfg.FlushBaseDelay,
			Interval:   cfg.FlushInterval,
		},
		Debug: cfg.Debug,
	}, resolver, rawRepo, pointRepo, logger)
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}

	manager, err := brokermqtt.NewManager(brokermqtt.Config{
		BrokerURL:      cfg.BrokerURL,
		ClientID:       cfg.ClientID,
		Username:       cfg.BrokerUsername,
		Password:       cfg.BrokerPassword,
		Topics:         cfg.Topics,
		ReconnectDelay: cfg.ReconnectDelay,
	}, service.HandleMessage, logger)
	if err != nil {
		logger.Fatalf("broker manager error: %v", err)
	}
	if err := manager.Start(); err != nil {
		logger.Printf("broker connect error: %v", err)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	go service.Run(runCtx)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/status", apihttp.NewStatusHandler(service, manager))
	mux.Handle("/devices/invalidate", apihttp.NewInvalidateHandler(resolver))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", apihttp.HealthzHandler())

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: authMiddleware.Wrap(mux)}
	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Printf("shutdown: signal received")

	manager.Close()
	cancelRun()

	drainCtx := context.Background()
	if cfg.ShutdownTimeout > 0 {
		var cancelDrain context.CancelFunc
		drainCtx, cancelDrain = context.WithTimeout(drainCtx, cfg.ShutdownTimeout)
		defer cancelDrain()
	}
	service.Shutdown(drainCtx)

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelHTTP()
	_ = server.Shutdown(httpCtx)

	logger.Printf("shutdown: complete")
}
