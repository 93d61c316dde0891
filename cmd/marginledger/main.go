package main

import (
	"MarginLedger/internal/core"
	"MarginLedger/internal/event"
	"MarginLedger/internal/ingestion"
	"MarginLedger/internal/observability"
	"MarginLedger/internal/persistence"
	"MarginLedger/internal/projection"
	"MarginLedger/internal/server"
	"MarginLedger/internal/transfer"
	"MarginLedger/migrations"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("marginledger")
	logger.Info().Msg("MarginLedger starting")

	cfg, err := LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	engineCfg, err := cfg.Engine()
	if err != nil {
		logger.Fatal().Err(err).Msg("engine config")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	var db *sql.DB
	if cfg.NeedsPostgres() {
		db = openPostgres(ctx, cfg.PostgresURL, cfg.PostgresMaxConns, logger)
		defer db.Close()
		healthChecker.AddCheck("postgres", db.PingContext)

		if cfg.MigrateOnStart {
			migrator := persistence.NewMigrator(db, migrations.FS, observability.NewLogger("migrator"))
			if err := migrator.Up(ctx); err != nil {
				logger.Fatal().Err(err).Msg("run migrations")
			}
			logger.Info().Msg("migrations applied")
		}
	}

	// --- Account store ---
	var store core.AccountStore
	switch cfg.StoreBackend {
	case "postgres":
		store = persistence.NewPostgresStore(db)
	case "pebble":
		ps, err := persistence.OpenPebbleStore(cfg.PebblePath, nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("open pebble store")
		}
		defer ps.Close()
		store = ps
		logger.Info().Str("path", cfg.PebblePath).Msg("pebble store opened")
	default:
		store = persistence.NewMemoryStore()
		logger.Warn().Msg("using in-memory account store, state is lost on exit")
	}

	// --- Transfer primitive ---
	var (
		transfers  transfer.Primitive
		engineOpts []core.Option
	)
	if cfg.TransferBackend == "postgres" {
		custodyDB := openPostgres(ctx, cfg.CustodyPostgresURL, cfg.CustodyMaxConns, logger)
		defer custodyDB.Close()
		healthChecker.AddCheck("custody", custodyDB.PingContext)
		transfers = transfer.NewPostgresPrimitive(custodyDB)
	} else {
		mem := transfer.NewMemoryPrimitive()
		for _, d := range []string{cfg.DenominationA.Symbol, cfg.DenominationB.Symbol} {
			mem.Open(transfer.PoolAddress(cfg.Pool, d), transfer.PoolSigner(cfg.Pool), d, cfg.DevPoolBalance)
		}
		engineOpts = append(engineOpts, core.WithAccountHook(devCustodyHook(mem, cfg)))
		transfers = mem
		logger.Warn().Uint64("pool_balance", cfg.DevPoolBalance).Msg("using in-memory custody")
	}

	// --- Event log ---
	// The Postgres sink doubles as durable chain state: a restart continues
	// the sequence and hash chain from the last stored event.
	var eventLog *projection.EventLog
	if cfg.EventSink == "postgres" {
		eventLog = projection.NewEventLog(db)
		next, tip, err := eventLog.Tip(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("read event log tip")
		}
		engineOpts = append(engineOpts, core.WithStartSequence(next, tip))
		logger.Info().Int64("next_sequence", next).Msg("event chain resumed")
	}

	// --- Engine ---
	// Events are dropped (and counted) when the channel is full.
	eventChan := make(chan event.Envelope, cfg.EventChanSize)
	engineOpts = append(engineOpts,
		core.WithEvents(eventChan),
		core.WithMetrics(metrics),
		core.WithLogger(observability.NewLogger("engine")),
	)
	engine, err := core.NewEngine(engineCfg, store, transfers, engineOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("create engine")
	}

	// --- NATS ---
	var js jetstream.JetStream
	if cfg.NATSURL != "" {
		nc, stream, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		js = stream
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats status %s", nc.Status())
			}
			return nil
		})
		logger.Info().Str("url", cfg.NATSURL).Msg("NATS connected")
	}

	// --- Start goroutines ---
	errChan := make(chan error, 10)

	// 1. Command ingestion: NATS -> processor -> engine
	var natsSubscriber *ingestion.NATSSubscriber
	if js != nil {
		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			logger.Fatal().Err(err).Msg("ensure NATS streams")
		}

		dedup := newIdempotencyChecker(ctx, cfg, db, metrics, logger)
		commandChan := make(chan ingestion.RawCommand, cfg.CommandChanSize)
		natsSubscriber = ingestion.NewNATSSubscriber(js, commandChan, observability.NewLogger("nats-subscriber"))
		if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}

		processor := ingestion.NewProcessor(engine, dedup, metrics, observability.NewLogger("processor"))
		go func() {
			errChan <- processor.Run(ctx, commandChan)
		}()
	}

	// 2. Outbound publisher
	sink, err := newSink(ctx, cfg, js, eventLog)
	if err != nil {
		logger.Fatal().Err(err).Msg("create event sink")
	}
	if sink != nil {
		defer sink.Close()
		publisher := ingestion.NewOutboundPublisher(sink, eventChan, metrics, observability.NewLogger("publisher"))
		go func() {
			errChan <- publisher.Run(ctx)
		}()
		logger.Info().Str("sink", sink.Name()).Msg("publishing ledger events")
	} else {
		go drainEvents(ctx, eventChan)
	}

	// 3. gRPC server and 4. HTTP/JSON gateway
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Service:        server.NewLedgerService(engine),
		HealthChecker:  healthChecker,
		Metrics:        metrics,
		Logger:         observability.NewLogger("server"),
		AllowedOrigins: cfg.AllowedOrigins,
	})
	go func() {
		errChan <- grpcServer.StartGRPC(ctx)
	}()
	go func() {
		errChan <- grpcServer.StartHTTPGateway(ctx)
	}()

	// 5. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	// Mark service as ready after all goroutines started
	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	logger.Info().
		Str("store", cfg.StoreBackend).
		Str("transfer", cfg.TransferBackend).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("eligibility", engineCfg.Eligibility.String()).
		Msg("MarginLedger ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	// --- Graceful shutdown ---
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}
	cancel()

	// Give servers time to drain in-flight requests
	time.Sleep(500 * time.Millisecond)
	logger.Info().Msg("MarginLedger shutdown complete")
}

func openPostgres(ctx context.Context, dsn string, maxConns int, logger zerolog.Logger) *sql.DB {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns/2 + 1)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Int("max_conns", maxConns).Msg("Postgres connected")
	return db
}

// newIdempotencyChecker builds the two-tier command dedup. The durable tier
// needs Postgres; without it only the LRU is used.
func newIdempotencyChecker(ctx context.Context, cfg Config, db *sql.DB, metrics *observability.Metrics, logger zerolog.Logger) *core.IdempotencyChecker {
	if db == nil {
		logger.Warn().Msg("no Postgres configured, command dedup is in-memory only")
		return core.NewIdempotencyChecker(cfg.IdempotencyLRUCapacity, nil, metrics)
	}

	commandLog := persistence.NewPostgresCommandLog(db)
	checker := core.NewIdempotencyChecker(cfg.IdempotencyLRUCapacity, commandLog, metrics)

	keys, err := commandLog.RecentKeys(ctx, cfg.IdempotencyWarmKeys)
	if err != nil {
		logger.Warn().Err(err).Msg("warm dedup LRU")
		return checker
	}
	checker.Warm(keys)
	logger.Info().Int("keys", len(keys)).Msg("dedup LRU warmed")
	return checker
}

func newSink(ctx context.Context, cfg Config, js jetstream.JetStream, eventLog *projection.EventLog) (ingestion.Sink, error) {
	switch cfg.EventSink {
	case "postgres":
		return eventLog, nil
	case "nats":
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			return nil, err
		}
		return ingestion.NewNATSSink(js), nil
	case "kafka":
		return ingestion.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	default:
		return nil, nil
	}
}

// drainEvents discards events when no sink is configured.
func drainEvents(ctx context.Context, ch <-chan event.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
		}
	}
}

// devCustodyHook opens funded token accounts for new owners in the in-memory
// custody, so a local instance can be exercised end to end.
func devCustodyHook(mem *transfer.MemoryPrimitive, cfg Config) func(context.Context, uuid.UUID) error {
	return func(_ context.Context, owner uuid.UUID) error {
		for _, d := range []string{cfg.DenominationA.Symbol, cfg.DenominationB.Symbol} {
			addr := transfer.UserAddress(owner, d)
			if _, ok := mem.Balance(addr); !ok {
				mem.Open(addr, transfer.UserSigner(owner), d, cfg.DevUserBalance)
			}
		}
		return nil
	}
}
