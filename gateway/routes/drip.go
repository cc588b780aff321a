package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"dripfarm/gateway/middleware"
	nativecommon "dripfarm/native/common"
	"dripfarm/native/drip"
)

const dripRequestLimit = 1 << 16

type dripRoutes struct {
	engine     *drip.Engine
	approver   Approver
	treasuries TreasuryResolver
	logger     *slog.Logger
	timeout    time.Duration
}

func (dr *dripRoutes) mountQueries(r chi.Router) {
	r.Get("/pool", dr.getPool)
	r.Get("/users/{address}", dr.getUser)
	r.Get("/users/{address}/pending", dr.getPending)
	r.Get("/users/{address}/boost", dr.getBoost)
}

func (dr *dripRoutes) mountMutations(r chi.Router) {
	r.Post("/deposit", dr.deposit)
	r.Post("/withdraw", dr.withdraw)
	r.Post("/approve", dr.approve)
	r.Post("/pool/update", dr.updatePool)
}

func (dr *dripRoutes) mountAdmin(r chi.Router) {
	r.Post("/admin/reward-rate", dr.setRewardRate)
	r.Post("/admin/treasury", dr.setTreasury)
	r.Post("/admin/pause", dr.setPaused)
}

func (dr *dripRoutes) context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, dr.timeout)
}

type poolView struct {
	AccRewardPerShare       string `json:"accRewardPerShare"`
	LastRewardCheckpoint    uint64 `json:"lastRewardCheckpoint"`
	TotalBoostedShares      string `json:"totalBoostedShares"`
	RewardPerCheckpoint     string `json:"rewardPerCheckpoint"`
	YearlySupplySnapshot    string `json:"yearlySupplySnapshot"`
	YearAnchorTime          uint64 `json:"yearAnchorTime"`
	LastMintTime            uint64 `json:"lastMintTime"`
	ObservedMaxLockDuration uint64 `json:"observedMaxLockDuration"`
	Paused                  bool   `json:"paused"`
}

func newPoolView(p *drip.PoolState, paused bool) poolView {
	return poolView{
		AccRewardPerShare:       p.AccRewardPerShare.Dec(),
		LastRewardCheckpoint:    p.LastRewardCheckpoint,
		TotalBoostedShares:      p.TotalBoostedShares.Dec(),
		RewardPerCheckpoint:     p.RewardPerCheckpoint.Dec(),
		YearlySupplySnapshot:    p.YearlySupplySnapshot.Dec(),
		YearAnchorTime:          p.YearAnchorTime,
		LastMintTime:            p.LastMintTime,
		ObservedMaxLockDuration: p.ObservedMaxLockDuration,
		Paused:                  paused,
	}
}

type userView struct {
	Address          string `json:"address"`
	StakeAmount      string `json:"stakeAmount"`
	BoostMultiplier  string `json:"boostMultiplier"`
	RewardDebt       string `json:"rewardDebt"`
	LockStartTime    uint64 `json:"lockStartTime"`
	LockEndTime      uint64 `json:"lockEndTime"`
	CumulativeEarned string `json:"cumulativeEarned"`
}

func newUserView(u *drip.UserRecord) userView {
	return userView{
		Address:          u.Address.Hex(),
		StakeAmount:      u.StakeAmount.Dec(),
		BoostMultiplier:  u.BoostMultiplier.Dec(),
		RewardDebt:       u.RewardDebt.Dec(),
		LockStartTime:    u.LockStartTime,
		LockEndTime:      u.LockEndTime,
		CumulativeEarned: u.CumulativeEarned.Dec(),
	}
}

func (dr *dripRoutes) getPool(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	pool, err := dr.engine.Pool(ctx)
	if err != nil {
		dr.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool, dr.engine.Paused()))
}

func (dr *dripRoutes) getUser(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	user, err := dr.engine.User(ctx, addr)
	if err != nil {
		dr.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

func (dr *dripRoutes) getPending(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	pending, err := dr.engine.PendingReward(ctx, addr)
	if err != nil {
		dr.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr.Hex(), "pending": pending.Dec()})
}

func (dr *dripRoutes) getBoost(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	query := r.URL.Query()
	var duration uint64
	if raw := query.Get("duration"); raw != "" {
		if duration, err = strconv.ParseUint(raw, 10, 64); err != nil {
			writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid duration %q", raw))
			return
		}
	}
	amount, err := parseAmount(query.Get("amount"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	mult, err := dr.engine.BoostMultiplier(ctx, addr, duration, amount)
	if err != nil {
		dr.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr.Hex(), "multiplier": mult.Dec()})
}

type depositRequest struct {
	Amount       string `json:"amount"`
	LockDuration uint64 `json:"lockDuration"`
}

func (dr *dripRoutes) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	caller, _ := middleware.CallerFromContext(r.Context())
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	user, err := dr.engine.Deposit(ctx, caller, amount, req.LockDuration)
	if err != nil {
		dr.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

type amountRequest struct {
	Amount string `json:"amount"`
}

func (dr *dripRoutes) withdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	caller, _ := middleware.CallerFromContext(r.Context())
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	user, err := dr.engine.Withdraw(ctx, caller, amount)
	if err != nil {
		dr.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserView(user))
}

func (dr *dripRoutes) approve(w http.ResponseWriter, r *http.Request) {
	if dr.approver == nil {
		writeJSONError(w, http.StatusNotImplemented, errors.New("approvals not supported"))
		return
	}
	var req amountRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	caller, _ := middleware.CallerFromContext(r.Context())
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	if err := dr.approver.Approve(ctx, caller, amount); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": caller.Hex(), "allowance": amount.Dec()})
}

func (dr *dripRoutes) updatePool(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	pool, err := dr.engine.UpdatePool(ctx)
	if err != nil {
		dr.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool, dr.engine.Paused()))
}

type rateRequest struct {
	Rate string `json:"rate"`
}

func (dr *dripRoutes) setRewardRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	rate, err := parseAmount(req.Rate)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	caller, _ := middleware.CallerFromContext(r.Context())
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	if err := dr.engine.SetRewardRate(ctx, caller, rate); err != nil {
		dr.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"rewardPerCheckpoint": rate.Dec()})
}

type treasuryRequest struct {
	Address string `json:"address"`
}

func (dr *dripRoutes) setTreasury(w http.ResponseWriter, r *http.Request) {
	if dr.treasuries == nil {
		writeJSONError(w, http.StatusNotImplemented, errors.New("treasury changes not supported"))
		return
	}
	var req treasuryRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(req.Address) {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid address %q", req.Address))
		return
	}
	addr := common.HexToAddress(req.Address)
	var treasury drip.Treasury
	if addr != (common.Address{}) {
		resolved, err := dr.treasuries(addr)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err)
			return
		}
		treasury = resolved
	}
	caller, _ := middleware.CallerFromContext(r.Context())
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	if err := dr.engine.SetTreasury(ctx, caller, treasury); err != nil {
		dr.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"treasury": addr.Hex()})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (dr *dripRoutes) setPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	caller, _ := middleware.CallerFromContext(r.Context())
	ctx, cancel := dr.context(r.Context())
	defer cancel()
	if err := dr.engine.SetPaused(ctx, caller, req.Paused); err != nil {
		dr.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func pathAddress(r *http.Request) (common.Address, error) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return new(uint256.Int), nil
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func decodeRequest(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	data, err := io.ReadAll(io.LimitReader(r.Body, dripRequestLimit))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, drip.ErrLocked), errors.Is(err, drip.ErrReentrant):
		return http.StatusConflict
	case errors.Is(err, drip.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, drip.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, drip.ErrCollaborator):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (dr *dripRoutes) writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		dr.logger.Error("drip request failed", slog.String("kind", drip.ErrorKind(err)), slog.Any("error", err))
	}
	writeJSONError(w, status, err)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
