package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"expensync/internal/analytics"
	"expensync/internal/core"
	"expensync/internal/log"
	"expensync/internal/services"
)

// ExpenseService is the facade surface served by the API.
type ExpenseService interface {
	Add(ctx context.Context, in core.ExpenseInput) (core.Expense, error)
	Edit(ctx context.Context, id string, patch core.ExpensePatch) (core.Expense, error)
	Delete(ctx context.Context, id string) error
	MarkPaid(ctx context.Context, id string) (core.Expense, error)
	MarkUnpaid(ctx context.Context, id string) (core.Expense, error)
	SettleAllByParty(ctx context.Context, party core.Party) (int, error)
	DeleteAllByParty(ctx context.Context, party core.Party) (int, error)
	List(ctx context.Context, f core.Filter) ([]core.Expense, error)
	Get(ctx context.Context, id string) (core.Expense, error)

	Tags(ctx context.Context) ([]string, error)
	Categories(ctx context.Context) ([]string, error)
	Summary(ctx context.Context) (analytics.Summary, error)
	Settlement(ctx context.Context) (analytics.Settlement, error)
	CategoryBreakdown(ctx context.Context, f core.Filter) (map[string]analytics.CategoryTotals, error)
	MonthlyTrend(ctx context.Context, n int) ([]analytics.MonthTotals, error)
	FixedVsVariable(ctx context.Context, f core.Filter) (analytics.FixedVsVariable, error)

	CreateSnapshot(ctx context.Context, month core.Month) (core.Snapshot, error)
	Snapshots(ctx context.Context) ([]core.Snapshot, error)
	Snapshot(ctx context.Context, month core.Month) (core.Snapshot, error)
}

// SyncService is the sync engine surface served by the API.
type SyncService interface {
	Sync(ctx context.Context) (services.SyncResult, error)
	ForceSync(ctx context.Context) (services.SyncResult, error)
	Pull(ctx context.Context, f core.Filter) (int, error)
	Status(ctx context.Context) (services.SyncStatus, error)
}

// Options tunes the server. Zero values select defaults.
type Options struct {
	RequestsPerMinute int
	Logger            *log.Logger
}

type Server struct {
	http.Server
	expenses ExpenseService
	sync     SyncService
	limiter  *rateLimiter
	logger   *log.Logger

	started  time.Time
	requests atomic.Int64

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, expenses ExpenseService, syncer SyncService, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default(log.ComponentHTTP)
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		expenses: expenses,
		sync:     syncer,
		limiter:  newRateLimiter(opts.RequestsPerMinute),
		logger:   logger,
		started:  time.Now(),
	}
	go s.limiter.startCleanup(5 * time.Minute)

	mux := http.NewServeMux()
	s.routes(mux)
	s.Handler = s.withRequestID(log.Middleware(logger)(s.withSecurity(mux)))

	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/expenses", s.handleListExpenses)
	mux.HandleFunc("POST /api/expenses", s.handleCreateExpense)
	mux.HandleFunc("GET /api/expenses/{id}", s.handleGetExpense)
	mux.HandleFunc("PUT /api/expenses/{id}", s.handleUpdateExpense)
	mux.HandleFunc("DELETE /api/expenses/{id}", s.handleDeleteExpense)
	mux.HandleFunc("PUT /api/expenses/{id}/mark-paid", s.handleMarkPaid)
	mux.HandleFunc("PUT /api/expenses/{id}/mark-unpaid", s.handleMarkUnpaid)
	mux.HandleFunc("PUT /api/parties/{party}/settle", s.handleSettleAll)
	mux.HandleFunc("DELETE /api/parties/{party}/expenses", s.handleDeleteAll)

	mux.HandleFunc("GET /api/tags", s.handleTags)
	mux.HandleFunc("GET /api/categories", s.handleCategories)
	mux.HandleFunc("GET /api/analytics/summary", s.handleSummary)
	mux.HandleFunc("GET /api/analytics/settlement", s.handleSettlement)
	mux.HandleFunc("GET /api/analytics/category-breakdown", s.handleCategoryBreakdown)
	mux.HandleFunc("GET /api/analytics/monthly-trend", s.handleMonthlyTrend)
	mux.HandleFunc("GET /api/analytics/fixed-vs-variable", s.handleFixedVsVariable)

	mux.HandleFunc("GET /api/snapshots", s.handleListSnapshots)
	mux.HandleFunc("POST /api/snapshots", s.handleCreateSnapshot)
	mux.HandleFunc("GET /api/snapshots/{month}", s.handleGetSnapshot)

	mux.HandleFunc("GET /api/sync/status", s.handleSyncStatus)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("POST /api/sync/force", s.handleForceSync)
	mux.HandleFunc("POST /api/sync/pull", s.handlePull)
}

// withRequestID assigns a request ID unless a trusted caller supplied one,
// and echoes it on the response.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		id := r.Header.Get(log.RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = generateRequestID()
			r.Header.Set(log.RequestIDHeader, id)
		}
		w.Header().Set(log.RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// withSecurity adds security headers and rate limits mutating requests.
func (s *Server) withSecurity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w.Header())

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			clientIP := extractClientIP(r)
			if !s.limiter.allow(clientIP) {
				log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
					log.FieldClientIP, clientIP,
					log.FieldMethod, r.Method,
					log.FieldPath, r.URL.Path)
				ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded, try again later").
					Header("Retry-After", "60").
					Write(w)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
