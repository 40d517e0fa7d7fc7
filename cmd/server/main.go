// Package main provides the monitor service over the durable stores:
// - HTTP API: book snapshots, completed trades, performance aggregates
// - Prometheus metrics and health endpoints
// - Reporting (scheduled): PERFORMANCE.md and TRADE_AGGREGATES.csv
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
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradecore/internal/domain"
	"tradecore/internal/observability"
	"tradecore/internal/perf"
	"tradecore/internal/reporting"
	"tradecore/internal/storage"
	chstore "tradecore/internal/storage/clickhouse"
	"tradecore/internal/storage/migrations"
	pgstore "tradecore/internal/storage/postgres"
	"tradecore/internal/tradebook"
)

// Server holds the monitor's stores and scheduler state.
type Server struct {
	state   storage.StateStore
	records storage.TradeRecordStore
	archive storage.CandleArchive // nil when no ClickHouse DSN was given

	outputDir      string
	reportInterval time.Duration
	logger         *log.Logger

	mu            sync.Mutex
	started       time.Time
	lastReportRun time.Time
	reportRunning bool
	reportRuns    int
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Parse flags (env vars as defaults)
	listen := flag.String("listen", ":8080", "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("TRADECORE_POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("TRADECORE_CLICKHOUSE_DSN"), "ClickHouse connection string for the candle archive (optional)")
	reportInterval := flag.Duration("report-interval", 6*time.Hour, "Report generation interval, 0 disables")
	outputDir := flag.String("output-dir", "reports", "Output directory for generated reports")
	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	if *postgresDSN == "" {
		logger.Fatal("--postgres-dsn is required (or set TRADECORE_POSTGRES_DSN)")
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	// Migrations are idempotent, so the monitor can boot against a fresh
	// database before any replay has run
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		logger.Fatalf("Failed to run postgres migrations: %v", err)
	}

	server := &Server{
		state:          pgstore.NewStateStore(pool),
		records:        pgstore.NewTradeRecordStore(pool),
		outputDir:      *outputDir,
		reportInterval: *reportInterval,
		logger:         logger,
		started:        time.Now(),
	}

	if *clickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, *clickhouseDSN)
		if err != nil {
			logger.Fatalf("Failed to connect to clickhouse: %v", err)
		}
		defer conn.Close()
		server.archive = chstore.NewCandleArchive(conn)
	}

	// Channel to signal completion
	done := make(chan error, 1)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
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

	err = server.Run(ctx, *listen)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// Run starts the HTTP server and the report scheduler, and blocks until the
// context is cancelled or a component fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 2)

	if s.reportInterval > 0 {
		go func() {
			err := s.runReportScheduler(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("report scheduler: %w", err)
			}
		}()
	}

	srv := &http.Server{Addr: addr, Handler: s.routes()}
	go func() {
		s.logger.Printf("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			s.logger.Printf("HTTP shutdown error: %v", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	mux.Handle("/metrics", observability.Handler())

	// Status endpoint
	mux.HandleFunc("/status", s.handleStatus)

	mux.HandleFunc("/api/v1/summary", s.handleSummary)
	mux.HandleFunc("/api/v1/groups", s.handleGroups)
	mux.HandleFunc("/api/v1/trades", s.handleTrades)
	mux.HandleFunc("/api/v1/book/", s.handleBook)
	mux.HandleFunc("/api/v1/candles", s.handleCandles)

	return mux
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string    `json:"status"`
	Uptime        string    `json:"uptime"`
	Started       time.Time `json:"started"`
	LastReportRun time.Time `json:"last_report_run,omitempty"`
	ReportRuns    int       `json:"report_runs"`
	ReportRunning bool      `json:"report_running"`
	ArchiveLinked bool      `json:"archive_linked"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp := StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).String(),
		Started:       s.started,
		LastReportRun: s.lastReportRun,
		ReportRuns:    s.reportRuns,
		ReportRunning: s.reportRunning,
		ArchiveLinked: s.archive != nil,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleSummary returns the overall performance aggregate for the window
// given by from/to query params (RFC3339, both optional).
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	agg, err := perf.NewAggregator(s.records).ComputeOverall(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, perf.ErrNoTrades) {
			writeError(w, http.StatusNotFound, "no completed trades in window")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, agg)
}

// handleGroups returns per-(mode, timeframe) aggregates for the window.
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	groups, err := perf.NewAggregator(s.records).ComputeGroups(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, perf.ErrNoTrades) {
			writeError(w, http.StatusNotFound, "no completed trades in window")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, groups)
}

// handleTrades returns completed trades, newest last. Supports symbol and
// limit query params; limit keeps the most recent records.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("bad limit %q", v))
			return
		}
		limit = n
	}

	var (
		records []*domain.TradeRecord
		err     error
	)
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		records, err = s.records.GetBySymbol(r.Context(), symbol)
	} else {
		records, err = s.records.GetAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	writeJSON(w, records)
}

// handleBook relays the persisted trade book snapshot for the requested
// collection (active, pending or completed) exactly as the engine saved it.
func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	var key string
	switch strings.TrimPrefix(r.URL.Path, "/api/v1/book/") {
	case "active":
		key = tradebook.KeyActive
	case "pending":
		key = tradebook.KeyPending
	case "completed":
		key = tradebook.KeyCompleted
	default:
		writeError(w, http.StatusNotFound, "unknown book collection")
		return
	}

	data, err := s.state.Load(r.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no snapshot saved yet")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// handleCandles returns the most recent archived candles for a symbol.
func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "candle archive not configured")
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	tf := domain.Timeframe15m
	if v := r.URL.Query().Get("timeframe"); v != "" {
		tf = domain.Timeframe(v)
		if !tf.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("bad timeframe %q", v))
			return
		}
	}

	n := 20
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("bad n %q", v))
			return
		}
		n = parsed
	}

	candles, err := s.archive.GetLastN(r.Context(), symbol, tf, n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, candles)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// windowFromQuery parses optional from/to RFC3339 query params into Unix ms
// bounds, 0 for an open bound.
func windowFromQuery(r *http.Request) (int64, int64, error) {
	parse := func(name string) (int64, error) {
		v := r.URL.Query().Get(name)
		if v == "" {
			return 0, nil
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return 0, fmt.Errorf("bad %s value %q", name, v)
		}
		return t.UnixMilli(), nil
	}

	from, err := parse("from")
	if err != nil {
		return 0, 0, err
	}
	to, err := parse("to")
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

// runReportScheduler runs report generation on schedule.
func (s *Server) runReportScheduler(ctx context.Context) error {
	s.logger.Printf("Starting report scheduler (interval: %v)...", s.reportInterval)

	// Run immediately on start
	s.runReport(ctx)

	ticker := time.NewTicker(s.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runReport(ctx)
		}
	}
}

// runReport generates reports.
func (s *Server) runReport(ctx context.Context) {
	s.mu.Lock()
	if s.reportRunning {
		s.mu.Unlock()
		s.logger.Println("Report generation already running, skipping...")
		return
	}
	s.reportRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.reportRunning = false
		s.lastReportRun = time.Now()
		s.reportRuns++
		s.mu.Unlock()
	}()

	s.logger.Println("Generating reports...")
	start := time.Now()

	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		s.logger.Printf("Failed to create output directory: %v", err)
		return
	}

	report, err := reporting.NewGenerator(s.records).Generate(ctx, 0, 0)
	if err != nil {
		s.logger.Printf("Report generation error: %v", err)
		return
	}

	mdPath := filepath.Join(s.outputDir, "PERFORMANCE.md")
	if err := os.WriteFile(mdPath, []byte(reporting.RenderMarkdown(report)), 0644); err != nil {
		s.logger.Printf("Failed to write %s: %v", mdPath, err)
		return
	}
	csvPath := filepath.Join(s.outputDir, "TRADE_AGGREGATES.csv")
	if err := os.WriteFile(csvPath, []byte(reporting.RenderCSV(report.Groups)), 0644); err != nil {
		s.logger.Printf("Failed to write %s: %v", csvPath, err)
		return
	}

	s.logger.Printf("Reports generated in %v to %s/", time.Since(start), s.outputDir)
}
