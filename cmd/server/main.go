package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"certbridge/internal/bus"
	"certbridge/internal/bus/kafka"
	"certbridge/internal/bus/memory"
	"certbridge/internal/bus/retry"
	"certbridge/internal/decoder"
	"certbridge/internal/issuance"
	issuancemetrics "certbridge/internal/issuance/metrics"
	"certbridge/internal/platform/config"
	"certbridge/internal/platform/httpserver"
	"certbridge/internal/platform/logger"
	"certbridge/internal/platform/metrics"
	"certbridge/internal/platform/redis"
	"certbridge/internal/reconcile"
	reconcilemetrics "certbridge/internal/reconcile/metrics"
	"certbridge/internal/store/students"
	"certbridge/internal/submission"
	submissionmetrics "certbridge/internal/submission/metrics"
	httptransport "certbridge/internal/transport/http"
	"certbridge/internal/verify"
	verifymetrics "certbridge/internal/verify/metrics"
	"certbridge/pkg/platform/circuit"
)

const startupTimeout = 30 * time.Second

// studentStore is what every service needs from the student store.
type studentStore interface {
	submission.BatchRecorder
	issuance.IssuanceRecorder
	reconcile.StatisticsStore
	verify.StudentLookup
}

// infra holds connections that must be closed on shutdown.
type infra struct {
	closers []func()
	checks  map[string]httptransport.HealthCheck
}

func (i *infra) close() {
	for j := len(i.closers) - 1; j >= 0; j-- {
		i.closers[j]()
	}
}

// main wires config, the bus, the student store and the HTTP surface, then
// serves until SIGINT or SIGTERM.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("certbridge exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	self := bus.Identity{Name: cfg.Identity.OrgName, ID: cfg.Identity.OrgID}
	directory := bus.NewDirectory(bus.ParseDirectory(cfg.Identity.Directory)...)
	directory.Register(self)
	if _, err := directory.Resolve(cfg.Identity.Issuer); err != nil {
		directory.Register(bus.Identity{Name: cfg.Identity.Issuer})
	}

	res := &infra{checks: make(map[string]httptransport.HealthCheck)}
	defer res.close()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	rawBus, err := buildBus(startCtx, cfg, self, directory, log, res)
	if err != nil {
		return err
	}
	breaker := circuit.New("bus")
	b := retry.Wrap(rawBus,
		retry.WithAttempts(cfg.Reconcile.RetryAttempts),
		retry.WithLogger(log),
		retry.WithBreaker(breaker),
	)
	res.checks["bus_circuit"] = func(context.Context) error {
		if breaker.IsOpen() {
			return fmt.Errorf("bus circuit is open")
		}
		return nil
	}

	store, err := buildStore(startCtx, cfg, log, res)
	if err != nil {
		return err
	}

	dec := decoder.New(
		decoder.WithRouting(cfg.Identity.Issuer, cfg.Identity.Receiver),
		decoder.WithLogger(log),
	)
	reconciler, err := reconcile.New(b, dec,
		reconcile.WithLogger(log),
		reconcile.WithMetrics(reconcilemetrics.New()),
		reconcile.WithStore(store),
		reconcile.WithMessageLimit(cfg.Reconcile.MessageLimit),
		reconcile.WithConcurrency(cfg.Reconcile.Concurrency),
		reconcile.WithCallTimeout(cfg.Reconcile.CallTimeout),
	)
	if err != nil {
		return fmt.Errorf("init reconcile service: %w", err)
	}

	submitter, err := submission.New(b, self.Name, cfg.Identity.Issuer,
		submission.WithLogger(log),
		submission.WithMetrics(submissionmetrics.New()),
		submission.WithStore(store),
	)
	if err != nil {
		return fmt.Errorf("init submission service: %w", err)
	}

	verifier := verify.New(
		verify.WithLogger(log),
		verify.WithMetrics(verifymetrics.New()),
		verify.WithStore(store),
	)

	opts := []httptransport.Option{
		httptransport.WithLogger(log),
		httptransport.WithMetrics(metrics.New()),
		httptransport.WithGatherer(prometheus.DefaultGatherer),
	}
	if strings.EqualFold(self.Name, cfg.Identity.Issuer) {
		issuer, err := issuance.New(b, self.Name, reconciler,
			issuance.WithLogger(log),
			issuance.WithMetrics(issuancemetrics.New()),
			issuance.WithStore(store),
		)
		if err != nil {
			return fmt.Errorf("init issuance service: %w", err)
		}
		opts = append(opts, httptransport.WithIssuer(issuer))
		log.Info("issuance routes enabled", "issuer", self.Name)
	}
	for name, check := range res.checks {
		opts = append(opts, httptransport.WithHealthCheck(name, check))
	}

	handler := httptransport.New(reconciler, submitter, verifier, opts...)
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler))

	log.Info("starting certbridge",
		"addr", cfg.Server.Addr,
		"org", self.Name,
		"issuer", cfg.Identity.Issuer,
		"receiver", cfg.Identity.Receiver,
		"kafka_enabled", cfg.Kafka.Enabled(),
	)
	return httpserver.Run(ctx, srv, cfg.Server.ShutdownTimeout, log)
}

// buildBus returns the Kafka bus when brokers are configured, otherwise an
// in-process bus for development.
func buildBus(ctx context.Context, cfg config.Config, self bus.Identity, directory *bus.Directory, log *slog.Logger, res *infra) (bus.Bus, error) {
	if !cfg.Kafka.Enabled() {
		log.Warn("no kafka brokers configured, using in-memory bus")
		return memory.New(self, directory), nil
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if rdb == nil {
		return nil, fmt.Errorf("REDIS_URL is required when KAFKA_BROKERS is set")
	}
	res.closers = append(res.closers, func() { _ = rdb.Close() })
	res.checks["redis"] = rdb.Health

	payloads := kafka.NewRedisPayloads(rdb, kafka.WithPayloadTTL(cfg.Redis.PayloadTTL))
	kb, err := kafka.New(cfg.Kafka.Brokers, self, directory, payloads,
		kafka.WithTopic(cfg.Kafka.Topic),
		kafka.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("init kafka bus: %w", err)
	}
	res.closers = append(res.closers, kb.Close)
	res.checks["kafka"] = kb.Ping

	if err := kb.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
		return nil, fmt.Errorf("ensure kafka topic: %w", err)
	}
	log.Info("kafka bus ready", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	return kb, nil
}

// buildStore opens PostgreSQL when DATABASE_URL is set and falls back to
// the in-memory store.
func buildStore(ctx context.Context, cfg config.Config, log *slog.Logger, res *infra) (studentStore, error) {
	if cfg.Postgres.DSN == "" {
		log.Warn("no DATABASE_URL configured, using in-memory student store")
		return students.NewInMemory(), nil
	}

	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	res.closers = append(res.closers, func() { _ = db.Close() })

	store := students.NewPostgres(db)
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	res.checks["postgres"] = store.Ping
	log.Info("postgres student store ready")
	return store, nil
}
