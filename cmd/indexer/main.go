package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"token-rollup/internal/aggregation"
	"token-rollup/internal/config"
	"token-rollup/internal/domain"
	"token-rollup/internal/evm"
	"token-rollup/internal/ingestion"
	"token-rollup/internal/observability"
	"token-rollup/internal/storage"
	chstore "token-rollup/internal/storage/clickhouse"
	"token-rollup/internal/storage/memory"
	"token-rollup/internal/storage/migrations"
	pgstore "token-rollup/internal/storage/postgres"
	"token-rollup/internal/verification"
)

// errVerificationFailed makes verify mode exit with a distinct status.
var errVerificationFailed = errors.New("store diverges from replay")

// app holds the dependencies shared by every mode.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *observability.Metrics
	store   storage.AggregateStore
	archive storage.ArchiveStore // nil when no archive is configured
}

func main() {
	// Parse flags
	mode := flag.String("mode", "live", "Indexer mode: live, backfill, stream or verify")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides METRICS_ADDR, \"off\" to disable)")
	fromBlock := flag.Uint64("from-block", 0, "First block to index (default: watermark block)")
	toBlock := flag.Uint64("to-block", 0, "Last block to backfill (default: chain head)")

	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.With(zap.String("mode", *mode))

	metrics := observability.NewMetrics(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)

	// Start metrics server if enabled
	if cfg.Metrics.Addr != "" && cfg.Metrics.Addr != "off" {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal main goroutine completion
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	err = run(ctx, cfg, logger, metrics, *mode, *useMemory, *fromBlock, *toBlock)

	// Signal completion to shutdown handler
	done <- err
	cancel()

	switch {
	case err == nil, errors.Is(err, context.Canceled):
		logger.Info("shutdown complete")
	case errors.Is(err, errVerificationFailed):
		logger.Error("verification failed", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(2)
	default:
		logger.Error("indexer stopped", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	logger.Info("starting metrics server", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics, mode string, useMemory bool, fromBlock, toBlock uint64) error {
	a := &app{cfg: cfg, logger: logger, metrics: metrics}

	closeStores, err := a.openStores(ctx, useMemory)
	if err != nil {
		return err
	}
	defer closeStores()

	switch mode {
	case "live":
		return a.runLive(ctx, fromBlock)
	case "backfill":
		return a.runBackfill(ctx, fromBlock, toBlock)
	case "stream":
		return a.runStream(ctx)
	case "verify":
		return a.runVerify(ctx)
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

// openStores connects the aggregate store and the optional archive sink,
// applying migrations first.
func (a *app) openStores(ctx context.Context, useMemory bool) (func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if useMemory {
		a.logger.Warn("using in-memory storage, aggregates are lost on exit")
		a.store = memory.NewAggregateStore()
	} else {
		// Require POSTGRES_DSN unless --use-memory is explicitly set
		if a.cfg.Postgres.DSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required (use --use-memory for in-memory storage)")
		}
		pool, err := pgstore.NewPool(ctx, a.cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		closers = append(closers, pool.Close)

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			closeAll()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		a.store = pgstore.NewAggregateStore(pool)
	}

	if a.cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, a.cfg.ClickHouse.DSN)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		closers = append(closers, func() { conn.Close() }) //nolint:errcheck
		a.archive = chstore.NewArchiveStore(conn)
		a.logger.Info("archive sink enabled")
	}

	return closeAll, nil
}

func (a *app) rpcClient() (*evm.HTTPClient, error) {
	if a.cfg.RPC.HTTPURL == "" {
		return nil, fmt.Errorf("RPC_HTTP_URL is required")
	}
	return evm.NewHTTPClient(a.cfg.RPC.HTTPURL,
		evm.WithTimeout(a.cfg.RPC.Timeout),
		evm.WithMaxRetries(a.cfg.RPC.MaxRetries),
		evm.WithMetrics(a.metrics),
	), nil
}

func (a *app) metadata(rpc evm.RPCClient) aggregation.MetadataResolver {
	fallback := domain.TokenMetadata{
		Name:     a.cfg.Token.Name,
		Symbol:   a.cfg.Token.Symbol,
		Decimals: uint8(a.cfg.Token.Decimals),
	}
	if rpc == nil || !a.cfg.Token.Resolve {
		return aggregation.StaticMetadata(fallback)
	}
	return evm.NewMetadataResolver(rpc, fallback, a.logger.Named("metadata"))
}

func (a *app) newRunner(rpc evm.RPCClient) *ingestion.Runner {
	processor := aggregation.NewProcessor(aggregation.ProcessorOptions{
		Store:    a.store,
		Metadata: a.metadata(rpc),
		Logger:   a.logger.Named("processor"),
		Metrics:  a.metrics,
		Stream:   a.cfg.Ingestion.Stream,
	})
	return ingestion.NewRunner(ingestion.RunnerOptions{
		Processor:     processor,
		Archive:       a.archive,
		BlockLag:      a.cfg.Ingestion.BlockLag,
		FlushInterval: a.cfg.Ingestion.FlushInterval,
		BatchSize:     a.cfg.Ingestion.BatchSize,
		Metrics:       a.metrics,
		Logger:        a.logger.Named("runner"),
	})
}

// startBlock returns the block to resume from: the watermark block, or
// fromBlock when it is later. Logs of the watermark block that were already
// applied are skipped by the processor.
func (a *app) startBlock(ctx context.Context, fromBlock uint64) (uint64, error) {
	cursor, err := a.store.Cursors().Get(ctx, a.cfg.Ingestion.Stream)
	if errors.Is(err, storage.ErrNotFound) {
		return fromBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	return max(cursor.Position.BlockNumber, fromBlock), nil
}

// runLive catches up to the chain head with eth_getLogs, then follows the
// WebSocket feed.
func (a *app) runLive(ctx context.Context, fromBlock uint64) error {
	if a.cfg.RPC.WSURL == "" {
		return fmt.Errorf("RPC_WS_URL is required for live mode")
	}
	rpc, err := a.rpcClient()
	if err != nil {
		return err
	}
	runner := a.newRunner(rpc)

	batch := ingestion.NewRPCLogSource(ingestion.RPCLogSourceOptions{
		RPC:        rpc,
		Tokens:     a.cfg.Ingestion.Tokens,
		ChunkSize:  a.cfg.Ingestion.ChunkSize,
		FetchNonce: a.cfg.Ingestion.FetchNonce,
		Logger:     a.logger.Named("rpc_source"),
		Metrics:    a.metrics,
	})

	// Catch up until the head stops moving between passes
	for {
		from, err := a.startBlock(ctx, fromBlock)
		if err != nil {
			return err
		}
		head, err := batch.Head(ctx)
		if err != nil {
			return fmt.Errorf("get head: %w", err)
		}
		if from > head {
			break
		}
		res, err := runner.Backfill(ctx, batch, from, head, a.cfg.Ingestion.Window)
		if err != nil {
			return fmt.Errorf("catch up: %w", err)
		}
		a.logger.Info("caught up",
			zap.Uint64("from", res.FromBlock),
			zap.Uint64("to", res.ToBlock),
			zap.Int64("applied", res.TransfersApplied))
		fromBlock = head + 1
	}

	wsConfig := evm.DefaultWSConfig()
	wsConfig.Logger = a.logger.Named("ws")
	wsConfig.Metrics = a.metrics
	ws, err := evm.NewWSClient(ctx, a.cfg.RPC.WSURL, &wsConfig)
	if err != nil {
		return fmt.Errorf("create websocket client: %w", err)
	}
	defer ws.Close()

	live := ingestion.NewWSLogSource(ingestion.WSLogSourceOptions{
		WS:         ws,
		RPC:        rpc,
		Tokens:     a.cfg.Ingestion.Tokens,
		FetchNonce: a.cfg.Ingestion.FetchNonce,
		Logger:     a.logger.Named("ws_source"),
		Metrics:    a.metrics,
	})

	a.logger.Info("following live feed", zap.Strings("tokens", a.cfg.Ingestion.Tokens))
	err = runner.Run(ctx, live)
	a.logStats(runner.Stats())
	return err
}

func (a *app) runBackfill(ctx context.Context, fromBlock, toBlock uint64) error {
	rpc, err := a.rpcClient()
	if err != nil {
		return err
	}
	runner := a.newRunner(rpc)

	src := ingestion.NewRPCLogSource(ingestion.RPCLogSourceOptions{
		RPC:        rpc,
		Tokens:     a.cfg.Ingestion.Tokens,
		ChunkSize:  a.cfg.Ingestion.ChunkSize,
		FetchNonce: a.cfg.Ingestion.FetchNonce,
		Logger:     a.logger.Named("rpc_source"),
		Metrics:    a.metrics,
	})

	from, err := a.startBlock(ctx, fromBlock)
	if err != nil {
		return err
	}
	to := toBlock
	if to == 0 {
		if to, err = src.Head(ctx); err != nil {
			return fmt.Errorf("get head: %w", err)
		}
	}

	a.logger.Info("backfilling block range", zap.Uint64("from", from), zap.Uint64("to", to))
	res, err := runner.Backfill(ctx, src, from, to, a.cfg.Ingestion.Window)
	if err != nil {
		return err
	}
	a.logger.Info("backfill complete",
		zap.Int("fetched", res.EventsFetched),
		zap.Int64("applied", res.TransfersApplied),
		zap.Int64("skipped", res.TransfersSkipped),
		zap.Int64("out_of_order", res.OutOfOrderEvents),
		zap.Int64("malformed", res.MalformedEvents),
		zap.Int64("contract_events", res.ContractEvents),
		zap.Int64("violations", res.Violations),
		zap.Duration("duration", res.Duration))
	return nil
}

func (a *app) runStream(ctx context.Context) error {
	client, err := ingestion.NewRedisClient(ctx, a.cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer client.Close()

	// Stream entries carry no token metadata; resolve it from the node when one is configured
	var rpc evm.RPCClient
	if a.cfg.RPC.HTTPURL != "" {
		c, err := a.rpcClient()
		if err != nil {
			return err
		}
		rpc = c
	}
	runner := a.newRunner(rpc)

	src, err := ingestion.NewRedisStreamSource(client, ingestion.RedisStreamConfig{
		Stream:  a.cfg.Redis.Stream,
		Block:   a.cfg.Redis.Block,
		Logger:  a.logger.Named("redis_source"),
		Metrics: a.metrics,
	})
	if err != nil {
		return err
	}

	a.logger.Info("consuming redis stream", zap.String("stream", a.cfg.Redis.Stream))
	err = runner.Run(ctx, src)
	a.logStats(runner.Stats())
	return err
}

func (a *app) runVerify(ctx context.Context) error {
	verifier := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
		Store:   a.store,
		Metrics: a.metrics,
		Logger:  a.logger.Named("verifier"),
	})

	report, err := verifier.VerifyAll(ctx)
	if err != nil {
		return err
	}
	if !report.Match() {
		return fmt.Errorf("%w: %d divergences, %d invariant violations",
			errVerificationFailed, len(report.Divergences), len(report.Violations))
	}
	return nil
}

func (a *app) logStats(s ingestion.RunnerStats) {
	a.logger.Info("runner stats",
		zap.Int64("applied", s.TransfersApplied),
		zap.Int64("skipped", s.TransfersSkipped),
		zap.Int64("out_of_order", s.OutOfOrderEvents),
		zap.Int64("malformed", s.MalformedEvents),
		zap.Int64("contract_events", s.ContractEvents),
		zap.Int64("violations", s.Violations),
		zap.Int64("archive_failures", s.ArchiveFailures),
		zap.Uint64("last_block", s.LastAppliedBlock))
}
