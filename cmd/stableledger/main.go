package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"StableLedger/internal/config"
	"StableLedger/internal/core"
	"StableLedger/internal/event"
	"StableLedger/internal/ingestion"
	"StableLedger/internal/observability"
	"StableLedger/internal/oracle"
	"StableLedger/internal/persistence"
	"StableLedger/internal/projection"
	"StableLedger/internal/query"
	"StableLedger/internal/server"
	"StableLedger/migrations"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// genesisNamespace derives the request id of the configured genesis
// config, so every restart submits the same idempotent event.
var genesisNamespace = uuid.MustParse("0f6f3a52-9a61-4c1e-8f0e-7b1d2c3e4a50")

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("INFO: StableLedger starting...")

	configPath := flag.String("config", os.Getenv("STABLE_CONFIG"), "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("FATAL: load config: %v", err)
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("FATAL: postgres open: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxOpenConns / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("FATAL: postgres ping: %v", err)
	}
	log.Println("INFO: Postgres connected")

	// --- Run SQL migrations ---
	applied, err := persistence.NewMigrator(db, migrations.FS).Up(ctx)
	if err != nil {
		log.Fatalf("FATAL: run migrations: %v", err)
	}
	log.Printf("INFO: migrations applied (%d new)", applied)

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Oracle: quote store + Hermes upstream ---
	var quotes oracle.QuoteStore = oracle.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("FATAL: redis ping: %v", err)
		}
		quotes = oracle.NewRedisCache(rdb, cfg.Redis.Prefix, cfg.Redis.TTL)
		log.Printf("INFO: Redis quote cache at %s", cfg.Redis.Addr)
	}
	hermes := oracle.NewHermesClient(cfg.Oracle.HermesURL, cfg.Oracle.RPS, cfg.Oracle.Burst, observability.NewLogger("hermes"))
	priceOracle := oracle.NewCachedOracle(quotes, hermes, cfg.Oracle.RefreshAfter)

	// --- Channels ---
	// The persist channel blocks (backpressure); the projection channel drops.
	persistChan := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.Engine.ProjectionChanSize)

	// --- Engine ---
	engineLogger := observability.NewLogger("engine")
	engine := core.NewEngine(priceOracle, core.Options{
		FeedID:         cfg.Oracle.FeedID,
		MaxAge:         cfg.Oracle.MaxAge,
		LRUCapacity:    cfg.Engine.LRUCapacity,
		DBChecker:      persistence.NewPostgresIdempotencyChecker(db),
		Quotes:         quotes,
		Metrics:        metrics,
		Logger:         &engineLogger,
		PersistChan:    persistChan,
		ProjectionChan: projectionChan,
	})

	// --- Snapshot store ---
	snapMgr := persistence.NewSnapshotManager(db)
	var snapStore persistence.SnapshotStore = snapMgr
	if cfg.Snapshot.Store == "sqlite" {
		sqliteStore, err := persistence.OpenSQLiteSnapshotStore(cfg.Snapshot.SQLitePath, cfg.Snapshot.Keep)
		if err != nil {
			log.Fatalf("FATAL: open sqlite snapshot store: %v", err)
		}
		defer sqliteStore.Close()
		snapStore = sqliteStore
		log.Printf("INFO: snapshots in SQLite at %s", cfg.Snapshot.SQLitePath)
	}

	errChan := make(chan error, 16)
	var workers sync.WaitGroup
	goWorker := func(name string, run func(context.Context) error) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	// 1. Projection worker. Started before recovery so replayed outputs
	// reach the read models; it skips anything at or below its watermark.
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics)
	goWorker("projection worker", projWorker.Run)

	// --- Recovery: load snapshot + replay ---
	stats, err := persistence.Recover(ctx, engine, snapStore, snapMgr, metrics, observability.NewLogger("recovery"))
	if err != nil {
		log.Fatalf("FATAL: recovery failed: %v", err)
	}
	if err := engine.CheckInvariants(); err != nil {
		log.Fatalf("FATAL: invariants after recovery: %v", err)
	}
	log.Printf("INFO: recovered (snapshot=%d, replayed=%d, sequence=%d)",
		stats.SnapshotSequence, stats.Replayed, stats.Sequence)

	// 2. Persistence worker
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.Engine.PersistBatchSize, cfg.Engine.PersistFlushTimeout, metrics)

	// --- NATS (optional) ---
	var natsSubscriber *ingestion.NATSSubscriber
	if cfg.NATS.URL != "" {
		natsLogger := observability.NewLogger("nats")
		nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, natsLogger)
		if err != nil {
			log.Fatalf("FATAL: nats connect: %v", err)
		}
		defer nc.Close()
		log.Println("INFO: NATS connected")

		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			log.Fatalf("FATAL: ensure NATS streams: %v", err)
		}
		if err := ingestion.EnsureOutboundStream(ctx, js, natsLogger); err != nil {
			log.Fatalf("FATAL: ensure outbound stream: %v", err)
		}

		// 3. Outbound publisher, fed after each persisted batch commits.
		startPublisher(js, persistWorker, metrics, goWorker)

		// 4. NATS -> engine dispatcher
		rawEventChan := make(chan ingestion.RawEvent, 4096)
		natsSubscriber = ingestion.NewNATSSubscriber(js, rawEventChan, natsLogger)
		if err := natsSubscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			log.Fatalf("FATAL: nats subscribe: %v", err)
		}
		dispatcher := ingestion.NewDispatcher(engine, ingestion.DefaultSubjects(), metrics, observability.NewLogger("dispatcher"))
		goWorker("dispatcher", func(ctx context.Context) error {
			dispatcher.Run(ctx, rawEventChan, cfg.NATS.Workers)
			return nil
		})
	} else {
		log.Println("WARN: STABLE_NATS_URL not set, NATS ingestion and publishing disabled")
	}

	goWorker("persistence worker", persistWorker.Run)

	// --- Genesis config ---
	submit := ingestion.NewSubmitService(engine, nil)
	if cfg.Protocol != nil {
		if _, err := engine.Config(); err != nil {
			id := uuid.NewSHA1(genesisNamespace, cfg.Protocol.CanonicalBytes())
			res, err := submit.SubmitConfig(ctx, id, cfg.Protocol.Authority, *cfg.Protocol)
			if err != nil {
				log.Fatalf("FATAL: initialize config: %v", err)
			}
			log.Printf("INFO: protocol config initialized at sequence %d", res.Sequence)
		}
	}
	if _, err := engine.Config(); err != nil {
		log.Println("WARN: protocol config not initialized; operations fail until InitializeConfig")
	}

	// 5. Websocket price stream (optional)
	if cfg.Oracle.StreamURL != "" {
		stream := oracle.NewStream(cfg.Oracle.StreamURL, []string{cfg.Oracle.FeedID}, observability.NewLogger("price-stream"))
		goWorker("price stream", func(ctx context.Context) error {
			return stream.Run(ctx, func(ctx context.Context, q oracle.PriceQuote) error {
				_, err := engine.Process(ctx, priceUpdateFromQuote(q))
				return err
			})
		})
	}

	// --- gRPC + HTTP gateway ---
	snapshotter := func(ctx context.Context) (int64, error) {
		snap, err := persistence.TakeSnapshot(ctx, engine, snapStore, metrics)
		if err != nil {
			return 0, err
		}
		return snap.Sequence, nil
	}
	var auth *server.Authenticator
	if cfg.Auth.Secret != "" {
		auth = server.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer)
	} else {
		log.Println("WARN: STABLE_JWT_SECRET not set, API authentication disabled")
	}
	srv, err := server.New(
		server.NewLedgerService(submit, query.NewQueryService(db, engine, nil), snapshotter),
		server.Options{
			GRPCAddr: cfg.Server.GRPCAddr,
			HTTPAddr: cfg.Server.HTTPAddr,
			Auth:     auth,
			Limiter:  server.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
			Health:   healthChecker,
			Metrics:  metrics,
			Logger:   observability.NewLogger("server"),
		},
	)
	if err != nil {
		log.Fatalf("FATAL: build server: %v", err)
	}

	// 6. gRPC server
	goWorker("grpc server", srv.StartGRPC)

	// 7. HTTP/JSON gateway
	goWorker("http gateway", srv.StartHTTPGateway)

	// 8. Periodic snapshot creation
	goWorker("snapshots", func(ctx context.Context) error {
		runPeriodicSnapshots(ctx, engine, snapStore, cfg.Snapshot.Interval, cfg.Snapshot.CheckEvery, metrics)
		return nil
	})

	// 9. Prometheus metrics server
	goWorker("metrics server", func(ctx context.Context) error {
		return serveMetrics(ctx, cfg.Server.MetricsAddr)
	})

	healthChecker.AddCheck("postgres", db.PingContext)
	healthChecker.AddCheck("config", func(context.Context) error {
		_, err := engine.Config()
		return err
	})

	// Mark service as ready after all goroutines started
	srv.SetServing(true)

	log.Printf("INFO: StableLedger ready (sequence=%d, grpc=%s, http=%s, metrics=%s)",
		engine.LastSequence(), cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, cfg.Server.MetricsAddr)

	// --- Wait for shutdown signal ---
	select {
	case <-ctx.Done():
		log.Println("INFO: received shutdown signal, shutting down...")
	case err := <-errChan:
		log.Printf("ERROR: goroutine failed: %v, shutting down...", err)
	}

	// --- Graceful shutdown ---
	// Stop intake, let the workers flush, then take a final snapshot.
	srv.SetServing(false)
	cancel()
	if natsSubscriber != nil {
		natsSubscriber.Stop()
	}

	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Println("WARN: workers did not stop within 30s")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if snap, err := persistence.TakeSnapshot(shutdownCtx, engine, snapStore, metrics); err != nil {
		log.Printf("ERROR: final snapshot failed: %v", err)
	} else {
		log.Printf("INFO: final snapshot saved at sequence %d", snap.Sequence)
	}

	log.Println("INFO: StableLedger shutdown complete")
}

// startPublisher wires the outbound publisher to the persistence worker.
// Rows are handed over only after their batch commits; when the publisher
// falls behind, rows are dropped and counted rather than stalling writes.
func startPublisher(
	js jetstream.JetStream,
	persistWorker *persistence.PersistenceWorker,
	metrics *observability.Metrics,
	goWorker func(string, func(context.Context) error),
) {
	publishChan := make(chan ingestion.PublishableEvent, 4096)
	persistWorker.OnFlush(func(rows []persistence.EventRow) {
		for _, row := range rows {
			select {
			case publishChan <- ingestion.PublishableFromRow(row):
			default:
				metrics.PublishErrors.Inc()
			}
		}
	})
	publisher := ingestion.NewOutboundPublisher(js, publishChan, metrics, observability.NewLogger("publisher"))
	goWorker("outbound publisher", publisher.Run)
}

// priceUpdateFromQuote turns a streamed quote into a sequenced price event.
func priceUpdateFromQuote(q oracle.PriceQuote) *event.PriceUpdate {
	seq := q.Sequence
	if seq <= 0 {
		seq = q.ObservedAt.Unix()
	}
	return &event.PriceUpdate{
		FeedID:        q.FeedID,
		Mantissa:      q.Mantissa,
		Exponent:      q.Exponent,
		Confidence:    q.Confidence,
		PublishTime:   q.ObservedAt,
		PriceSequence: seq,
	}
}

// runPeriodicSnapshots takes a snapshot whenever interval events have
// committed since the last one, checking every checkEvery.
func runPeriodicSnapshots(
	ctx context.Context,
	engine *core.Engine,
	store persistence.SnapshotStore,
	interval int64,
	checkEvery time.Duration,
	metrics *observability.Metrics,
) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSnapshotSeq := engine.LastSequence()
	ticker := time.NewTicker(checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := engine.LastSequence()
			if currentSeq-lastSnapshotSeq < interval {
				continue
			}
			snap, err := persistence.TakeSnapshot(ctx, engine, store, metrics)
			if err != nil {
				log.Printf("WARN: periodic snapshot failed: %v", err)
				continue
			}
			lastSnapshotSeq = snap.Sequence
			log.Printf("INFO: periodic snapshot at sequence %d", snap.Sequence)
		}
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		metricsServer.Shutdown(shutCtx)
	}()

	log.Printf("INFO: Metrics server listening on %s/metrics", addr)
	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
