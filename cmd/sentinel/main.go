package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/automaxprocs/maxprocs"

	appalerting "github.com/scanops/sentinel/internal/app/alerting"
	appscanning "github.com/scanops/sentinel/internal/app/scanning"
	"github.com/scanops/sentinel/internal/config"
	"github.com/scanops/sentinel/internal/domain/alerting"
	"github.com/scanops/sentinel/internal/domain/events"
	"github.com/scanops/sentinel/internal/domain/scanning"
	"github.com/scanops/sentinel/internal/infra/eventbus/kafka"
	eventmem "github.com/scanops/sentinel/internal/infra/eventbus/memory"
	storagemem "github.com/scanops/sentinel/internal/infra/storage/memory"
	storagepg "github.com/scanops/sentinel/internal/infra/storage/postgres"
	"github.com/scanops/sentinel/internal/infra/webhook"
	"github.com/scanops/sentinel/pkg/common"
	"github.com/scanops/sentinel/pkg/common/logger"
	commonotel "github.com/scanops/sentinel/pkg/common/otel"
)

const serviceType = "sentinel"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      commonotel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return commonotel.GetTraceID(ctx)
	}

	metadata := map[string]string{
		"hostname": hostname,
		"app":      serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelInfo, serviceType, traceIDFn, logEvents, metadata)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, log); err != nil {
		log.Error(ctx, "Startup failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, log *logger.Logger) error {
	cfg, err := config.Load(os.Getenv("SENTINEL_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tracer, cleanup, err := setupTelemetry(ctx, log, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer cleanup(ctx)

	jobStore, findingStore, closeStores, err := setupStorage(ctx, cfg.Storage, tracer, log)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	defer closeStores()

	publisher, closePublisher, err := setupPublisher(ctx, cfg.Kafka, log, tracer)
	if err != nil {
		return fmt.Errorf("initializing event publisher: %w", err)
	}
	defer closePublisher()

	broadcaster := eventmem.NewBroadcaster(cfg.Orchestrator.ProgressBuffer, log)

	var dispatcherMetrics webhook.DispatcherMetrics
	var alertMetrics appalerting.AlertMetrics
	if cfg.Telemetry.Enabled {
		m, err := appalerting.NewAlertMetrics(otel.GetMeterProvider())
		if err != nil {
			return fmt.Errorf("creating alert metrics: %w", err)
		}
		alertMetrics, dispatcherMetrics = m, m
	}

	limiter := common.NewKeyedRateLimiter(cfg.Webhook.RatePerSecond, cfg.Webhook.Burst)
	dispatcher := webhook.NewDispatcher(limiter, log, dispatcherMetrics, tracer,
		webhook.WithAttemptTimeout(cfg.Webhook.AttemptTimeout),
		webhook.WithMaxAttempts(cfg.Webhook.MaxAttempts),
		webhook.WithInitialBackoff(cfg.Webhook.InitialBackoff),
	)

	var rules []alerting.Rule
	if cfg.Alerting.RulesFile != "" {
		if rules, err = config.LoadRules(cfg.Alerting.RulesFile); err != nil {
			return fmt.Errorf("loading alert rules: %w", err)
		}
		log.Info(ctx, "Alert rules loaded", "file", cfg.Alerting.RulesFile, "rules", len(rules))
	}
	pipeline := appalerting.NewPipeline(
		alerting.NewRuleSet(rules),
		dispatcher,
		publisher,
		cfg.Alerting.Channels,
		log,
		alertMetrics,
		tracer,
	)

	registry := appscanning.NewPluginRegistry()
	if err := registerPlugins(registry); err != nil {
		return fmt.Errorf("registering plugins: %w", err)
	}
	log.Info(ctx, "Plugins registered", "plugins", registry.Names())

	var orchMetrics appscanning.OrchestrationMetrics
	if cfg.Telemetry.Enabled {
		if orchMetrics, err = appscanning.NewOrchestrationMetrics(otel.GetMeterProvider()); err != nil {
			return fmt.Errorf("creating orchestration metrics: %w", err)
		}
	}

	orchestrator := appscanning.NewOrchestrator(
		registry,
		jobStore,
		findingStore,
		broadcaster,
		publisher,
		log,
		orchMetrics,
		tracer,
		appscanning.WithWorkers(cfg.Orchestrator.Workers),
		appscanning.WithJobTimeout(cfg.Orchestrator.JobTimeout),
		appscanning.WithCancelGrace(cfg.Orchestrator.CancelGrace),
		appscanning.WithFindingSink(pipeline),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info(ctx, "Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	log.Info(ctx, "Sentinel starting",
		"workers", cfg.Orchestrator.Workers,
		"storage", cfg.Storage.Backend,
		"kafka", cfg.Kafka.Enabled,
	)

	if err := orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("running orchestrator: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "Webhook dispatcher shutdown incomplete", "error", err)
	}

	log.Info(shutdownCtx, "Sentinel shutdown complete")
	return nil
}

// setupTelemetry installs the otel providers when telemetry is enabled and
// returns the tracer every component shares. Disabled telemetry yields a noop
// tracer so instrumentation stays unconditional.
func setupTelemetry(ctx context.Context, log *logger.Logger, cfg config.TelemetryConfig) (trace.Tracer, func(context.Context), error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer(serviceType), func(context.Context) {}, nil
	}

	tp, cleanup, err := commonotel.InitTelemetry(log, commonotel.Config{
		ServiceName:      cfg.ServiceName,
		ExporterEndpoint: cfg.ExporterEndpoint,
		Probability:      cfg.SamplingRatio,
		InsecureExporter: true,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Info(ctx, "Telemetry initialized", "endpoint", cfg.ExporterEndpoint)
	return tp.Tracer(serviceType), cleanup, nil
}

func setupStorage(
	ctx context.Context,
	cfg config.StorageConfig,
	tracer trace.Tracer,
	log *logger.Logger,
) (scanning.JobRepository, scanning.FindingRepository, func(), error) {
	switch cfg.Backend {
	case "postgres":
		pool, err := storagepg.Connect(ctx, storagepg.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		log.Info(ctx, "Connected to postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		return storagepg.NewJobStore(pool, tracer), storagepg.NewFindingStore(pool, tracer), pool.Close, nil

	default:
		return storagemem.NewJobStore(), storagemem.NewFindingStore(), func() {}, nil
	}
}

func setupPublisher(
	ctx context.Context,
	cfg config.KafkaConfig,
	log *logger.Logger,
	tracer trace.Tracer,
) (events.DomainEventPublisher, func(), error) {
	if !cfg.Enabled {
		return events.NoopPublisher{}, func() {}, nil
	}

	publisher, err := kafka.ConnectWithRetry(ctx, &kafka.Config{
		Brokers:           cfg.Brokers,
		JobLifecycleTopic: cfg.JobLifecycleTopic,
		FindingsTopic:     cfg.FindingsTopic,
		AlertsTopic:       cfg.AlertsTopic,
		ClientID:          cfg.ClientID,
	}, log, tracer)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to kafka: %w", err)
	}

	closeFn := func() {}
	if closer, ok := publisher.(*kafka.DomainEventPublisher); ok {
		closeFn = func() {
			if err := closer.Close(); err != nil {
				log.Error(context.Background(), "Failed to close kafka publisher", "error", err)
			}
		}
	}
	return publisher, closeFn, nil
}
