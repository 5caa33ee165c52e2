package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"royaltyd/cache"
	"royaltyd/claims"
	"royaltyd/config"
	"royaltyd/detect"
	"royaltyd/gateway"
	"royaltyd/ledger"
	"royaltyd/native/royalty"
	"royaltyd/notify"
	"royaltyd/observability/logging"
	telemetry "royaltyd/observability/otel"
	"royaltyd/schedule"
	"royaltyd/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("royaltyd: %v", err)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config/royaltyd.yaml", "path to royaltyd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("royaltyd", cfg.Environment, logging.Options{
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	otlpHeaders := telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "royaltyd",
		Environment: cfg.Environment,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     otlpHeaders,
		Metrics:     true,
		Traces:      true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	rates, err := cfg.TierRates()
	if err != nil {
		return fmt.Errorf("load tier rates: %w", err)
	}
	calculator, err := royalty.NewCalculator(rates)
	if err != nil {
		return fmt.Errorf("init calculator: %w", err)
	}

	ledgerClient, err := ledger.NewClient(cfg.Ledger.Endpoint,
		ledger.WithBearerToken(cfg.Ledger.AuthToken))
	if err != nil {
		return fmt.Errorf("init ledger client: %w", err)
	}
	adapter := ledger.NewRetrier(ledgerClient,
		ledger.WithAttempts(cfg.Ledger.RetryAttempts),
		ledger.WithBackoff(cfg.Ledger.RetryBackoff.Duration),
		ledger.WithCallTimeout(cfg.Ledger.CallTimeout.Duration))

	var redisClient *redis.Client
	if address := strings.TrimSpace(cfg.Redis.Address); address != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = redisClient.Close() }()
	}

	var (
		history    claims.HistoryRepository = claims.NewMemoryHistory()
		notifStore notify.Store             = notify.NewMemoryStore()
		eventRepo  detect.EventRepository   = detect.NewMemoryEvents()
	)
	if databaseURL := strings.TrimSpace(cfg.DatabaseURL); databaseURL != "" {
		db, err := storage.Open(databaseURL)
		if err != nil {
			return err
		}
		history = storage.NewClaimHistory(db)
		notifStore = storage.NewNotificationStore(db)
		eventRepo = storage.NewEventStore(db)
	} else {
		logger.Warn("no database configured, using in-memory stores")
	}

	dispatcherOpts := []notify.DispatcherOption{
		notify.WithLimit(cfg.Notify.PerHour),
		notify.WithLogger(logger),
	}
	if webhookURL := strings.TrimSpace(cfg.Notify.WebhookURL); webhookURL != "" {
		webhook, err := notify.NewWebhookDeliverer(webhookURL, cfg.Notify.WebhookSecret)
		if err != nil {
			return fmt.Errorf("init webhook deliverer: %w", err)
		}
		dispatcherOpts = append(dispatcherOpts, notify.WithDeliverer(webhook))
	}
	dispatcher, err := notify.NewDispatcher(notifStore, dispatcherOpts...)
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	processorOpts := []claims.ProcessorOption{
		claims.WithNotifier(dispatcher),
		claims.WithClaimLimit(cfg.Claims.ClaimsPerHour),
		claims.WithLogger(logger),
	}
	if min := cfg.Claims.MinClaimAmount(); min != nil {
		processorOpts = append(processorOpts, claims.WithMinClaim(min))
	}
	if threshold := cfg.Claims.LargePaymentAmount(); threshold != nil {
		processorOpts = append(processorOpts, claims.WithLargePaymentThreshold(threshold))
	}
	if redisClient != nil {
		claimable, err := cache.NewRedis[string](redisClient, "royaltyd:claimable",
			cfg.Claims.ClaimableCacheTTL.Duration)
		if err != nil {
			return fmt.Errorf("init claimable cache: %w", err)
		}
		processorOpts = append(processorOpts, claims.WithClaimableCache(claimable))
	}
	processor, err := claims.NewProcessor(calculator, adapter, history,
		cfg.Claims.FeeCollector, processorOpts...)
	if err != nil {
		return fmt.Errorf("init claim processor: %w", err)
	}

	detectorOpts := []detect.DetectorOption{
		detect.WithNotifier(dispatcher),
		detect.WithBatchSize(cfg.Detect.BatchSize),
		detect.WithOracleDelay(cfg.Detect.OracleDelay.Duration),
		detect.WithOracleTimeout(cfg.Detect.OracleTimeout.Duration),
		detect.WithLogger(logger),
	}
	if redisClient != nil {
		dedup, err := cache.NewRedis[float64](redisClient, "royaltyd:dedup", detect.DedupTTL)
		if err != nil {
			return fmt.Errorf("init dedup cache: %w", err)
		}
		detectorOpts = append(detectorOpts, detect.WithDedupCache(dedup))
	}
	var oracle detect.Oracle = detect.FuncOracle{}
	if oracleURL := strings.TrimSpace(cfg.Detect.OracleURL); oracleURL != "" {
		oracle, err = detect.NewHTTPOracle(oracleURL)
		if err != nil {
			return fmt.Errorf("init oracle client: %w", err)
		}
	} else {
		logger.Warn("no oracle configured, monitors will scan nothing")
	}
	detector, err := detect.NewDetector(oracle, eventRepo, detectorOpts...)
	if err != nil {
		return fmt.Errorf("init detector: %w", err)
	}

	runner := schedule.NewRunner(logger)
	if err := detector.RegisterWith(runner, cfg.Detect.ScanInterval.Duration); err != nil {
		return fmt.Errorf("register monitors: %w", err)
	}

	server := gateway.New(gateway.Config{
		Processor:  processor,
		Calculator: calculator,
		Dispatcher: dispatcher,
		Detector:   detector,
		Runner:     runner,
		AdminToken: cfg.Admin.BearerToken,
		Version:    "v1",
		Logger:     logger,
	})
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Start(stopCtx); err != nil {
		return fmt.Errorf("start monitors: %w", err)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("royaltyd listening", "address", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return runner.Shutdown(shutdownCtx)
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
