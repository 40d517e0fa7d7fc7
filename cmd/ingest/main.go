package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradecore/internal/domain"
	"tradecore/internal/replay"
	chstore "tradecore/internal/storage/clickhouse"
	"tradecore/internal/storage/migrations"
)

func main() {
	// Parse flags
	mode := flag.String("mode", "load", "Mode: load (CSV into the archive) or tail (print recent bars)")
	candlesPath := flag.String("candles", "", "Candle CSV file to load")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string")
	batchSize := flag.Int("batch-size", 5000, "Candles per insert batch")
	symbol := flag.String("symbol", "", "Symbol to inspect (tail mode)")
	timeframe := flag.String("timeframe", "15m", "Timeframe to inspect (tail mode)")
	lastN := flag.Int("n", 20, "Bars to print (tail mode)")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[ingest] ", log.LstdFlags|log.Lshortfile)

	// Load .env if present; the env DSN fills in for the flag
	_ = godotenv.Load()

	dsn := *clickhouseDSN
	if dsn == "" {
		dsn = os.Getenv("TRADECORE_CLICKHOUSE_DSN")
	}
	if dsn == "" {
		logger.Fatal("--clickhouse-dsn or TRADECORE_CLICKHOUSE_DSN is required")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Println("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	var err error
	switch *mode {
	case "load":
		err = runLoad(ctx, logger, dsn, *candlesPath, *batchSize)
	case "tail":
		err = runTail(ctx, dsn, *symbol, *timeframe, *lastN)
	default:
		logger.Fatalf("Unknown mode: %s", *mode)
	}

	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatalf("Error: %v", err)
	}

	logger.Println("Done")
}

// runLoad bulk-inserts a candle CSV into the archive, creating the schema
// on first use.
func runLoad(ctx context.Context, logger *log.Logger, dsn, candlesPath string, batchSize int) error {
	if candlesPath == "" {
		return fmt.Errorf("--candles is required for load mode")
	}
	if batchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive")
	}

	bars, err := replay.LoadCandlesCSV(candlesPath)
	if err != nil {
		return fmt.Errorf("load candles: %w", err)
	}
	if len(bars) == 0 {
		logger.Println("Nothing to load")
		return nil
	}

	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return fmt.Errorf("prepare clickhouse schema: %w", err)
	}
	defer conn.Close()

	archive := chstore.NewCandleArchive(conn)

	start := time.Now()
	for begin := 0; begin < len(bars); begin += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := begin + batchSize
		if end > len(bars) {
			end = len(bars)
		}
		if err := archive.InsertBatch(ctx, bars[begin:end]); err != nil {
			return fmt.Errorf("insert batch at row %d: %w", begin, err)
		}
		logger.Printf("Inserted %d/%d candles", end, len(bars))
	}

	logger.Printf("Load complete: %d candles in %v", len(bars), time.Since(start).Round(time.Millisecond))
	return nil
}

// runTail prints the most recent bars stored for one (symbol, timeframe).
func runTail(ctx context.Context, dsn, symbol, timeframe string, n int) error {
	if symbol == "" {
		return fmt.Errorf("--symbol is required for tail mode")
	}
	tf := domain.Timeframe(timeframe)
	if !tf.IsValid() {
		return fmt.Errorf("unknown timeframe %q", timeframe)
	}

	conn, err := chstore.NewConn(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close()

	bars, err := chstore.NewCandleArchive(conn).GetLastN(ctx, symbol, tf, n)
	if err != nil {
		return fmt.Errorf("read archive: %w", err)
	}
	if len(bars) == 0 {
		fmt.Printf("No candles stored for %s %s\n", symbol, tf)
		return nil
	}

	for _, c := range bars {
		fmt.Printf("%s  %s %s  O=%.5f H=%.5f L=%.5f C=%.5f V=%.3f\n",
			time.UnixMilli(c.TimestampMs).UTC().Format(time.RFC3339),
			c.Symbol, c.Timeframe, c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	return nil
}
