package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"dripfarm/gateway/middleware"
	"dripfarm/native/drip"
	"dripfarm/native/token"
	"dripfarm/storage"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	ownerAddr  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	aliceAddr  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

type stepClock struct{ height uint64 }

func (c *stepClock) BlockHeight() uint64 { return c.height }
func (c *stepClock) Now() time.Time      { return time.Unix(10_000, 0) }

type ledgerApprover struct {
	engine *drip.Engine
	ledger *token.Ledger
}

func (a ledgerApprover) Approve(ctx context.Context, owner common.Address, amount *uint256.Int) error {
	return a.engine.Exclusive(ctx, func(ctx context.Context) error {
		return a.ledger.As(owner).Approve(ctx, a.engine.Address(), amount)
	})
}

type harness struct {
	server *httptest.Server
	clock  *stepClock
	stake  *token.Ledger
	reward *token.Ledger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	h := &harness{
		clock:  &stepClock{height: 1},
		stake:  token.NewLedger("LP", ownerAddr),
		reward: token.NewLedger("DRIP", engineAddr),
	}
	require.NoError(t, h.stake.As(ownerAddr).Mint(ctx, aliceAddr, uint256.NewInt(1_000)))
	require.NoError(t, h.reward.As(engineAddr).Mint(ctx, engineAddr, uint256.NewInt(10_000)))

	params := drip.DefaultParams()
	params.RewardPerCheckpoint = uint256.NewInt(10)
	engine, err := drip.NewEngine(engineAddr, params, h.stake.As(engineAddr), h.reward.As(engineAddr))
	require.NoError(t, err)
	engine.SetState(drip.NewStore(storage.NewMemDB()))
	engine.SetClock(h.clock)
	engine.SetJournals(h.stake, h.reward)
	engine.SetAuthorizer(drip.OwnerGate{Owner: ownerAddr})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine.SetLogger(logger)

	h.server = httptest.NewServer(New(Config{
		Engine:   engine,
		Approver: ledgerApprover{engine: engine, ledger: h.stake},
		Logger:   logger,
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, caller common.Address, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	if caller != (common.Address{}) {
		req.Header.Set(middleware.HeaderCaller, caller.Hex())
	}
	res, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	out := map[string]interface{}{}
	// Middleware rejections are plain text.
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func TestDepositClaimWithdrawOverHTTP(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodPost, "/v1/approve", aliceAddr, map[string]string{"amount": "1000"})
	require.Equal(t, http.StatusOK, status)

	status, user := h.do(t, http.MethodPost, "/v1/deposit", aliceAddr, depositRequest{Amount: "100"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "100", user["stakeAmount"])

	h.clock.height = 11
	status, pending := h.do(t, http.MethodGet, "/v1/users/"+aliceAddr.Hex()+"/pending", common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "100", pending["pending"])

	status, user = h.do(t, http.MethodPost, "/v1/withdraw", aliceAddr, amountRequest{Amount: "50"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "50", user["stakeAmount"])
	require.Equal(t, "100", user["cumulativeEarned"])

	status, pool := h.do(t, http.MethodGet, "/v1/pool", common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "50", pool["totalBoostedShares"])

	status, boost := h.do(t, http.MethodGet, "/v1/users/"+aliceAddr.Hex()+"/boost?duration=0&amount=5", common.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "1000000000000", boost["multiplier"])
}

func TestErrorStatusMapping(t *testing.T) {
	h := newHarness(t)

	status, _ := h.do(t, http.MethodPost, "/v1/deposit", common.Address{}, depositRequest{Amount: "1"})
	require.Equal(t, http.StatusUnauthorized, status)

	status, _ = h.do(t, http.MethodPost, "/v1/withdraw", aliceAddr, amountRequest{Amount: "1"})
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodPost, "/v1/deposit", aliceAddr, depositRequest{Amount: "1"})
	require.Equal(t, http.StatusBadGateway, status, "deposit without allowance is a collaborator failure")

	status, _ = h.do(t, http.MethodPost, "/v1/admin/reward-rate", aliceAddr, rateRequest{Rate: "20"})
	require.Equal(t, http.StatusForbidden, status)

	status, _ = h.do(t, http.MethodPost, "/v1/admin/reward-rate", ownerAddr, rateRequest{Rate: "20"})
	require.Equal(t, http.StatusOK, status)

	status, _ = h.do(t, http.MethodPost, "/v1/admin/treasury", ownerAddr, treasuryRequest{Address: "0x0000000000000000000000000000000000000000"})
	require.Equal(t, http.StatusNotImplemented, status)

	status, _ = h.do(t, http.MethodPost, "/v1/admin/pause", ownerAddr, pauseRequest{Paused: true})
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(t, http.MethodPost, "/v1/withdraw", aliceAddr, amountRequest{Amount: "0"})
	require.Equal(t, http.StatusServiceUnavailable, status)

	status, _ = h.do(t, http.MethodGet, "/v1/users/not-an-address", common.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(t, http.MethodPost, "/v1/deposit", aliceAddr, map[string]string{"amount": "1", "extra": "x"})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestStatusForEngineErrors(t *testing.T) {
	require.Equal(t, http.StatusConflict, statusFor(drip.ErrLocked))
	require.Equal(t, http.StatusConflict, statusFor(drip.ErrReentrant))
	require.Equal(t, http.StatusBadRequest, statusFor(drip.ErrLockTooLong))
	require.Equal(t, http.StatusInternalServerError, statusFor(drip.ErrUnderflow))
	require.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
}
