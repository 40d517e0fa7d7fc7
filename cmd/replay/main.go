package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradecore/internal/candles"
	"tradecore/internal/config"
	"tradecore/internal/domain"
	"tradecore/internal/entry"
	"tradecore/internal/exit"
	"tradecore/internal/governor"
	"tradecore/internal/id"
	"tradecore/internal/journal"
	"tradecore/internal/observability"
	"tradecore/internal/orchestrator"
	"tradecore/internal/profile"
	"tradecore/internal/replay"
	"tradecore/internal/storage"
	chstore "tradecore/internal/storage/clickhouse"
	"tradecore/internal/storage/memory"
	"tradecore/internal/storage/migrations"
	pgstore "tradecore/internal/storage/postgres"
	sqlitestore "tradecore/internal/storage/sqlite"
	"tradecore/internal/tradebook"
	"tradecore/internal/verification"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to a YAML config file")
	candlesPath := flag.String("candles", "", "Candle CSV file to replay")
	signalsPath := flag.String("signals", "", "Signal JSON file to admit during the replay")
	runID := flag.String("run-id", "", "Journal run id (default: generated)")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	verbose := flag.Bool("verbose", false, "Log per-run engine diagnostics")
	verify := flag.Bool("verify", false, "Re-run the stream afterwards and check stored records match")
	fromArchive := flag.Bool("archive", false, "Replay candles from the ClickHouse archive instead of a CSV file")
	symbol := flag.String("symbol", "", "Symbol to replay (archive mode)")
	timeframeStr := flag.String("timeframe", "15m", "Timeframe to replay (archive mode)")
	fromStr := flag.String("from", "", "Archive window start, RFC3339 (archive mode)")
	toStr := flag.String("to", "", "Archive window end, RFC3339 (archive mode)")

	flag.Parse()

	// Setup structured logger
	logger := log.New(os.Stderr, "[replay] ", log.LstdFlags)

	// Validate required flags
	if *candlesPath == "" && !*fromArchive {
		logger.Fatal("--candles or --archive is required")
	}

	// Load .env if present; env DSNs override the config file
	_ = godotenv.Load()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadFromFile(*configPath)
		if err != nil {
			logger.Fatalf("load config: %v", err)
		}
	}
	if dsn := os.Getenv("TRADECORE_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if dsn := os.Getenv("TRADECORE_CLICKHOUSE_DSN"); dsn != "" {
		cfg.Storage.ClickhouseDSN = dsn
	}
	if path := os.Getenv("TRADECORE_SQLITE_PATH"); path != "" {
		cfg.Storage.SQLitePath = path
	}
	if *verbose {
		cfg.Verbose = true
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	profiles := profile.DefaultTable()
	if cfg.ProfilesFile != "" {
		var err error
		profiles, err = profile.LoadTable(cfg.ProfilesFile)
		if err != nil {
			logger.Fatalf("load profiles: %v", err)
		}
	}

	// Create the state store backing the trade book. The postgres backend
	// also persists completed trades for cmd/report.
	var stateStore storage.StateStore
	var records storage.TradeRecordStore
	switch cfg.Storage.Backend {
	case "memory", "":
		stateStore = memory.NewStateStore()
	case "sqlite":
		st, err := sqlitestore.NewStateStore(cfg.Storage.SQLitePath)
		if err != nil {
			logger.Fatalf("open sqlite state store: %v", err)
		}
		defer st.Close()
		stateStore = st
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			logger.Fatalf("connect to postgres: %v", err)
		}
		defer pool.Close()

		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("run postgres migrations: %v", err)
		}
		stateStore = pgstore.NewStateStore(pool)
		records = pgstore.NewTradeRecordStore(pool)
	default:
		logger.Fatalf("unknown storage backend %q", cfg.Storage.Backend)
	}

	// The reproducibility audit needs this run's completions even when
	// no durable backend is configured.
	if *verify && records == nil {
		records = memory.NewTradeRecordStore()
	}

	debounce, _ := cfg.Book.ParseDebounce()
	book := tradebook.NewBook(tradebook.Options{
		Store:        stateStore,
		CompletedCap: cfg.Book.CompletedCap,
		Debounce:     debounce,
		Logger:       logger,
	})
	if err := book.LoadFrom(ctx); err != nil {
		logger.Fatalf("load trade book: %v", err)
	}

	rid := *runID
	if rid == "" {
		rid = id.NewRunID()
	}

	var jrn journal.Journal = journal.Nop{}
	switch cfg.Journal.Type {
	case "csv":
		j, err := journal.NewCSV(cfg.Journal.Path, rid)
		if err != nil {
			logger.Fatalf("open csv journal: %v", err)
		}
		jrn = j
	case "sqlite":
		j, err := journal.NewSQLite(cfg.Journal.Path, rid)
		if err != nil {
			logger.Fatalf("open sqlite journal: %v", err)
		}
		jrn = j
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("")
		go func() {
			logger.Printf("metrics listening on %s", cfg.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Metrics.Listen, observability.Handler()); err != nil {
				logger.Printf("metrics server: %v", err)
			}
		}()
	}

	store := candles.NewStore(cfg.Candles.RetentionMap())
	engine := orchestrator.New(orchestrator.Options{
		Candles:  store,
		Book:     book,
		Governor: governor.New(cfg.Governor),
		Machine:  exit.NewMachine(cfg.Costs.Rates()),
		Resolver: entry.NewResolver(cfg.Costs.Rates(), cfg.Entry.Options()),
		Profiles: profiles,
		Journal:  jrn,
		Metrics:  metrics,
		Logger:   logger,
		Verbose:  cfg.Verbose,
	})

	// Load replay inputs
	var bars []domain.Candle
	var err error
	if *fromArchive {
		bars, err = loadArchiveCandles(ctx, cfg.Storage.ClickhouseDSN, *symbol, *timeframeStr, *fromStr, *toStr)
		if err != nil {
			logger.Fatalf("load archive candles: %v", err)
		}
	} else {
		bars, err = replay.LoadCandlesCSV(*candlesPath)
		if err != nil {
			logger.Fatalf("load candles: %v", err)
		}
	}
	var signals []domain.Signal
	if *signalsPath != "" {
		signals, err = replay.LoadSignalsJSON(*signalsPath)
		if err != nil {
			logger.Fatalf("load signals: %v", err)
		}
	}
	logger.Printf("Replaying %d bars and %d signals (run %s)", len(bars), len(signals), rid)

	runner := replay.NewRunner(engine, store, records)
	stats, err := runner.Run(ctx, replay.MergeStream(bars, signals))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Fatalf("replay failed: %v", err)
		}
		logger.Printf("Replay interrupted, reporting partial results")
	}

	// Flush state and the journal before reporting
	if err := book.Close(context.Background()); err != nil {
		logger.Printf("close trade book: %v", err)
	}
	if err := jrn.Close(); err != nil {
		logger.Printf("close journal: %v", err)
	}

	activeLeft, pendingLeft, _ := book.Counts()

	// Output summary
	if *outputJSON {
		out := struct {
			RunID string `json:"run_id"`
			*replay.Stats
			ActiveLeft  int `json:"active_left"`
			PendingLeft int `json:"pending_left"`
		}{rid, stats, activeLeft, pendingLeft}
		output, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("\n=== Replay Summary ===\n")
		fmt.Printf("Run ID:            %s\n", rid)
		fmt.Printf("Bars Processed:    %d\n", stats.BarsProcessed)
		fmt.Printf("Signals Admitted:  %d\n", stats.SignalsAdmitted)
		fmt.Printf("Signals Denied:    %d\n", stats.SignalsDenied)
		fmt.Printf("Orders Filled:     %d\n", stats.OrdersFilled)
		fmt.Printf("Orders Dropped:    %d\n", stats.OrdersDropped)
		fmt.Printf("Trades Completed:  %d\n", stats.TradesCompleted)
		for _, reason := range sortedReasons(stats.CompletionsByReason) {
			fmt.Printf("  %-17s %d\n", reason+":", stats.CompletionsByReason[reason])
		}
		fmt.Printf("Win Rate:          %.1f%%\n", stats.WinRate()*100)
		fmt.Printf("Gross R:           %+.2f\n", stats.GrossRTotal)
		fmt.Printf("Cost R:            %.2f\n", stats.CostRTotal)
		fmt.Printf("Net R:             %+.2f\n", stats.NetRTotal)
		fmt.Printf("Still Open:        %d active, %d pending\n", activeLeft, pendingLeft)
	}

	if *verify && err == nil {
		report, verr := verification.NewReplayVerifier(verification.Options{
			Stored:    records,
			Bars:      bars,
			Signals:   signals,
			Profiles:  profiles,
			Limits:    cfg.Governor,
			Costs:     cfg.Costs.Rates(),
			Entry:     cfg.Entry.Options(),
			Retention: cfg.Candles.RetentionMap(),
		}).VerifyAll(ctx)
		if verr != nil {
			logger.Fatalf("verify replay: %v", verr)
		}
		if report.DivergentTrades == 0 {
			logger.Printf("Verification passed: %d/%d trades reproduced", report.MatchedTrades, report.TotalTrades)
		} else {
			for _, res := range report.Results {
				for _, div := range res.Divergences {
					logger.Printf("trade %s: %s", res.TradeID, div)
				}
			}
			logger.Fatalf("Verification failed: %d of %d stored trades diverged", report.DivergentTrades, report.TotalTrades)
		}
	}
}

func sortedReasons(byReason map[string]int) []string {
	reasons := make([]string, 0, len(byReason))
	for r := range byReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	return reasons
}

// loadArchiveCandles pulls closed candles for one key out of the
// ClickHouse archive.
func loadArchiveCandles(ctx context.Context, dsn, symbol, timeframe, from, to string) ([]domain.Candle, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage.clickhouse_dsn or TRADECORE_CLICKHOUSE_DSN is required for --archive")
	}
	if symbol == "" {
		return nil, fmt.Errorf("--symbol is required for --archive")
	}
	tf := domain.Timeframe(timeframe)
	if !tf.IsValid() {
		return nil, fmt.Errorf("unknown timeframe %q", timeframe)
	}
	fromMs, err := parseArchiveBound(from, "from")
	if err != nil {
		return nil, err
	}
	toMs, err := parseArchiveBound(to, "to")
	if err != nil {
		return nil, err
	}

	conn, err := chstore.NewConn(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	return chstore.NewCandleArchive(conn).GetRange(ctx, symbol, tf, fromMs, toMs)
}

func parseArchiveBound(s, name string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("--%s is required for --archive", name)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return t.UnixMilli(), nil
}
