package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"conti/internal/cache"
	"conti/internal/core"
	applog "conti/internal/log"
	"conti/internal/services"
)

// TransactionManager is the transaction mutator as used by the API.
type TransactionManager interface {
	CreateExpense(ctx context.Context, ownerUID string, in core.ExpenseInput, entry services.Entry) (*core.Transaction, error)
	CreateIncome(ctx context.Context, ownerUID string, in core.IncomeInput, entry services.Entry) (*core.Transaction, error)
	CreateTransfer(ctx context.Context, ownerUID string, in core.TransferInput, entry services.Entry) (*core.Transaction, error)
	CreateExchange(ctx context.Context, ownerUID string, in core.ExchangeInput, entry services.Entry) (*core.Transaction, error)
	UpdateTransaction(ctx context.Context, existing core.Transaction, in core.Input, entry services.Entry) (*core.Transaction, error)
	DeleteTransaction(ctx context.Context, existing core.Transaction) error
	GetTransaction(ctx context.Context, ownerUID, id string) (core.Transaction, error)
	ListTransactions(ctx context.Context, ownerUID string, txType core.TransactionType) ([]core.Transaction, error)
}

// CatalogManager manages accounts, currencies and balance reads.
type CatalogManager interface {
	CreateAccount(ctx context.Context, a core.Account) (*core.Account, error)
	ListAccounts(ctx context.Context, ownerUID string) ([]core.Account, error)
	DeleteAccount(ctx context.Context, ownerUID, id string) error
	CreateCurrency(ctx context.Context, c core.Currency) (*core.Currency, error)
	ListCurrencies(ctx context.Context, ownerUID string) ([]core.Currency, error)
	DeleteCurrency(ctx context.Context, ownerUID, id string) error
	ListBalances(ctx context.Context, ownerUID string) ([]core.Balance, error)
}

// OverviewReader computes month summaries.
type OverviewReader interface {
	MonthOverview(ctx context.Context, ownerUID string, year, month int) (core.MonthOverview, error)
}

// ServerConfig tunes the API server.
type ServerConfig struct {
	Addr string
	// RequestsPerMinute limits mutating requests per client; zero disables.
	RequestsPerMinute int
	CacheSize         int
	CacheTTL          time.Duration
}

// DefaultServerConfig returns the limits used when none are configured.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		RequestsPerMinute: 60,
		CacheSize:         256,
		CacheTTL:          time.Minute,
	}
}

type appMetrics struct {
	requests    atomic.Int64
	mutations   atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	startTime   time.Time
}

// Server is the JSON API. Reads of balances and month overviews are cached
// per workspace and dropped on every mutation of that workspace.
type Server struct {
	http.Server
	transactions TransactionManager
	catalog      CatalogManager
	stats        OverviewReader
	logger       *applog.Logger

	rateLimiter   *rateLimiter
	locks         *workspaceLocks
	balanceCache  *cache.LRUCache[[]core.Balance]
	overviewCache *cache.LRUCache[core.MonthOverview]
	cacheManager  *cache.Manager
	metrics       *appMetrics
	now           func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg ServerConfig, tx TransactionManager, catalog CatalogManager, stats OverviewReader, logger *applog.Logger) *Server {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	s := &Server{
		transactions:  tx,
		catalog:       catalog,
		stats:         stats,
		logger:        logger.WithComponent(applog.ComponentHTTP),
		rateLimiter:   newRateLimiter(cfg.RequestsPerMinute),
		locks:         newWorkspaceLocks(),
		balanceCache:  cache.NewLRUCache[[]core.Balance](cfg.CacheSize, cfg.CacheTTL),
		overviewCache: cache.NewLRUCache[core.MonthOverview](cfg.CacheSize, cfg.CacheTTL),
		cacheManager:  cache.NewManager(logger),
		metrics:       &appMetrics{startTime: time.Now()},
		now:           time.Now,
	}
	s.cacheManager.Register(s.balanceCache)
	s.cacheManager.Register(s.overviewCache)
	s.cacheManager.StartCleanup(cfg.CacheTTL)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/transactions/{type}", s.withWorkspace(s.handleCreateTransaction))
	mux.HandleFunc("PUT /api/transactions/{id}", s.withWorkspace(s.handleUpdateTransaction))
	mux.HandleFunc("DELETE /api/transactions/{id}", s.withWorkspace(s.handleDeleteTransaction))
	mux.HandleFunc("GET /api/transactions", s.withWorkspace(s.handleListTransactions))

	mux.HandleFunc("GET /api/balances", s.withWorkspace(s.handleListBalances))
	mux.HandleFunc("GET /api/accounts", s.withWorkspace(s.handleListAccounts))
	mux.HandleFunc("POST /api/accounts", s.withWorkspace(s.handleCreateAccount))
	mux.HandleFunc("DELETE /api/accounts/{id}", s.withWorkspace(s.handleDeleteAccount))
	mux.HandleFunc("GET /api/currencies", s.withWorkspace(s.handleListCurrencies))
	mux.HandleFunc("POST /api/currencies", s.withWorkspace(s.handleCreateCurrency))
	mux.HandleFunc("DELETE /api/currencies/{id}", s.withWorkspace(s.handleDeleteCurrency))
	mux.HandleFunc("GET /api/overview", s.withWorkspace(s.handleOverview))

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.withRequestLogging(securityHeaders(s.withRateLimit(mux))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Shutdown stops background cleanup and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withWorkspace rejects requests without a workspace header.
func (s *Server) withWorkspace(h func(w http.ResponseWriter, r *http.Request, ownerUID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerUID, err := workspaceID(r)
		if err != nil {
			BadRequestError(err.Error()).Write(w)
			return
		}
		h(w, r, ownerUID)
	}
}

// invalidate drops every cached view of the workspace.
func (s *Server) invalidate(ctx context.Context, ownerUID string) {
	prefix := cache.Key(ownerUID)
	n := s.balanceCache.DeletePrefix(prefix) + s.overviewCache.DeletePrefix(prefix)
	if n > 0 {
		applog.FromContext(ctx).DebugContext(ctx, "Workspace cache invalidated",
			applog.FieldOwnerUID, ownerUID,
			"entries", n)
	}
}

// fail logs err at a level matching its response and writes the response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, op string) {
	resp := ErrorFor(err)
	logger := applog.FromContext(r.Context())
	if resp.statusCode >= http.StatusInternalServerError {
		logger.LogError(r.Context(), "Request failed", err, op,
			applog.NewFields().WithHTTPRequest(r.Method, r.URL.Path, extractClientIP(r)))
	} else {
		logger.WarnContext(r.Context(), "Request rejected",
			applog.FieldOperation, op,
			applog.FieldError, err)
	}
	resp.Write(w)
}
