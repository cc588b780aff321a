package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"dripfarm/gateway/middleware"
	"dripfarm/native/drip"
)

// Approver grants the engine an allowance over the owner's stake tokens.
type Approver interface {
	Approve(ctx context.Context, owner common.Address, amount *uint256.Int) error
}

// TreasuryResolver binds a treasury address to a usable Treasury.
type TreasuryResolver func(addr common.Address) (drip.Treasury, error)

type Config struct {
	Engine         *drip.Engine
	Approver       Approver
	Treasuries     TreasuryResolver
	Authenticator  *middleware.Authenticator
	RateLimiter    *middleware.RateLimiter
	MetricsHandler http.Handler
	Logger         *slog.Logger
	// Timeout bounds every engine call made on behalf of a request.
	Timeout time.Duration
}

func New(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Authenticator == nil {
		cfg.Authenticator = middleware.NewAuthenticator(middleware.AuthConfig{}, cfg.Logger)
	}
	dr := &dripRoutes{
		engine:     cfg.Engine,
		approver:   cfg.Approver,
		treasuries: cfg.Treasuries,
		logger:     cfg.Logger,
		timeout:    cfg.Timeout,
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	limit := func(key string) func(http.Handler) http.Handler {
		if cfg.RateLimiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return cfg.RateLimiter.Middleware(key)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(q chi.Router) {
			q.Use(middleware.Observe("query", cfg.Logger))
			q.Use(limit("query"))
			dr.mountQueries(q)
		})
		v1.Group(func(m chi.Router) {
			m.Use(middleware.Observe("mutate", cfg.Logger))
			m.Use(cfg.Authenticator.Middleware())
			m.Use(limit("mutate"))
			dr.mountMutations(m)
		})
		v1.Group(func(a chi.Router) {
			a.Use(middleware.Observe("admin", cfg.Logger))
			a.Use(cfg.Authenticator.Middleware())
			a.Use(limit("admin"))
			dr.mountAdmin(a)
		})
	})
	return r
}
