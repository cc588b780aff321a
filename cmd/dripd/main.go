package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dripfarm/config"
	"dripfarm/core/events"
	"dripfarm/gateway/middleware"
	"dripfarm/gateway/routes"
	"dripfarm/native/drip"
	"dripfarm/native/token"
	"dripfarm/native/treasury"
	"dripfarm/observability"
	"dripfarm/observability/logging"
	"dripfarm/storage"
)

var (
	stakeLedgerKey  = []byte("ledger/stake")
	rewardLedgerKey = []byte("ledger/reward")
)

const snapshotInterval = 30 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./dripd.toml", "path to dripd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("dripd", cfg.Environment, logging.ParseLevel(cfg.LogLevel))
	if err := run(cfg, logger); err != nil {
		logger.Error("dripd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	engineAddr, _ := config.ParseAddress("engine.Address", cfg.Engine.Address)
	ownerAddr, _ := config.ParseAddress("engine.Owner", cfg.Engine.Owner)
	params, err := cfg.Engine.Params()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer db.Close()

	// The stake token is minted by the operator for devnet funding; the reward
	// token is minted by the engine.
	stake := token.NewLedger("LP", ownerAddr)
	reward := token.NewLedger("DRIP", engineAddr)
	if err := stake.SetTransferFee(cfg.Engine.StakeFeeBps); err != nil {
		return err
	}
	if err := loadLedgers(cfg, db, stake, reward, ownerAddr, engineAddr, logger); err != nil {
		return err
	}

	engine, err := drip.NewEngine(engineAddr, params, stake.As(engineAddr), reward.As(engineAddr))
	if err != nil {
		return fmt.Errorf("configure engine: %w", err)
	}
	engine.SetState(drip.NewStore(db))
	engine.SetClock(cfg.Engine.Clock())
	engine.SetJournals(stake, reward)
	engine.SetAuthorizer(drip.OwnerGate{Owner: ownerAddr})
	engine.SetLogger(logger.With(slog.String("component", "drip")))
	engine.SetEmitter(observability.CountingEmitter{Next: eventLogger{logger: logger}})

	resolveTreasury := func(addr common.Address) (drip.Treasury, error) {
		return treasury.NewVault(reward, addr, engineAddr)
	}
	if cfg.Engine.Treasury != "" {
		vaultAddr, _ := config.ParseAddress("engine.Treasury", cfg.Engine.Treasury)
		vault, err := resolveTreasury(vaultAddr)
		if err != nil {
			return fmt.Errorf("configure treasury: %w", err)
		}
		engine.AttachTreasury(vault)
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimit))
	for key, limit := range cfg.RateLimit {
		limits[key] = middleware.RateLimit{RequestsPerMinute: limit.RequestsPerMinute, Burst: limit.Burst}
	}
	secret := cfg.Auth.Secret()
	logger.Info("dripd starting",
		slog.String("listen", cfg.ListenAddress),
		slog.String("engine", engineAddr.Hex()),
		slog.String("mode", string(params.Mode)),
		slog.Bool("auth", cfg.Auth.Enabled),
		logging.MaskField("hmacSecret", secret))

	handler := routes.New(routes.Config{
		Engine:     engine,
		Approver:   stakeApprover{engine: engine, ledger: stake},
		Treasuries: resolveTreasury,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		}, logger),
		RateLimiter:    middleware.NewRateLimiter(limits, logger),
		MetricsHandler: promhttp.Handler(),
		Logger:         logger,
	})
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for running := true; running; {
		select {
		case <-ctx.Done():
			running = false
		case err, ok := <-errCh:
			if ok {
				return fmt.Errorf("http server: %w", err)
			}
			running = false
		case <-ticker.C:
			if err := snapshotLedgers(ctx, engine, db, stake, reward); err != nil {
				logger.Error("ledger snapshot failed", slog.Any("error", err))
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownSeconds)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	if err := snapshotLedgers(context.Background(), engine, db, stake, reward); err != nil {
		return err
	}
	logger.Info("dripd stopped")
	return nil
}

// loadLedgers restores ledger snapshots or, on first start, seeds the
// configured devnet balances.
func loadLedgers(cfg *config.Config, db storage.Database, stake, reward *token.Ledger, ownerAddr, engineAddr common.Address, logger *slog.Logger) error {
	stakeFound, err := stake.Load(db, stakeLedgerKey)
	if err != nil {
		return fmt.Errorf("load stake ledger: %w", err)
	}
	rewardFound, err := reward.Load(db, rewardLedgerKey)
	if err != nil {
		return fmt.Errorf("load reward ledger: %w", err)
	}
	if stakeFound || rewardFound {
		return nil
	}
	ctx := context.Background()
	for _, acct := range cfg.Dev {
		addr, _ := config.ParseAddress("dev_accounts.Address", acct.Address)
		stakeAmount, _ := config.ParseAmount(acct.Stake)
		rewardAmount, _ := config.ParseAmount(acct.Reward)
		if err := mintIfPositive(ctx, stake.As(ownerAddr), addr, stakeAmount); err != nil {
			return fmt.Errorf("seed stake for %s: %w", addr.Hex(), err)
		}
		if err := mintIfPositive(ctx, reward.As(engineAddr), addr, rewardAmount); err != nil {
			return fmt.Errorf("seed reward for %s: %w", addr.Hex(), err)
		}
		logger.Info("seeded dev account", slog.String("address", addr.Hex()), slog.String("stake", stakeAmount.Dec()), slog.String("reward", rewardAmount.Dec()))
	}
	return saveLedgers(db, stake, reward)
}

func mintIfPositive(ctx context.Context, minter *token.Account, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	return minter.Mint(ctx, to, amount)
}

func saveLedgers(db storage.Database, stake, reward *token.Ledger) error {
	if err := stake.Save(db, stakeLedgerKey); err != nil {
		return fmt.Errorf("save stake ledger: %w", err)
	}
	if err := reward.Save(db, rewardLedgerKey); err != nil {
		return fmt.Errorf("save reward ledger: %w", err)
	}
	return nil
}

// snapshotLedgers saves the ledgers between engine operations so a snapshot
// never captures a mutation that is later reverted.
func snapshotLedgers(ctx context.Context, engine *drip.Engine, db storage.Database, stake, reward *token.Ledger) error {
	return engine.Exclusive(ctx, func(context.Context) error {
		return saveLedgers(db, stake, reward)
	})
}

// stakeApprover grants the engine a stake allowance. Approvals are serialized
// with engine operations so a failed operation cannot revert them.
type stakeApprover struct {
	engine *drip.Engine
	ledger *token.Ledger
}

func (a stakeApprover) Approve(ctx context.Context, owner common.Address, amount *uint256.Int) error {
	return a.engine.Exclusive(ctx, func(ctx context.Context) error {
		return a.ledger.As(owner).Approve(ctx, a.engine.Address(), amount)
	})
}

// eventLogger writes committed engine events to the service log.
type eventLogger struct {
	logger *slog.Logger
}

func (l eventLogger) Emit(evt events.Event) {
	payload := evt.Event()
	attrs := make([]any, 0, len(payload.Attributes)+1)
	attrs = append(attrs, slog.String("type", payload.Type))
	for key, value := range payload.Attributes {
		attrs = append(attrs, slog.String(key, value))
	}
	l.logger.Info("drip event", attrs...)
}
