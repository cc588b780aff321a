package drip

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"dripfarm/storage"
)

// engineState is the persistence surface the engine needs. Commit must apply
// the pool and every user atomically.
type engineState interface {
	GetPool() (*PoolState, error)
	GetUser(addr common.Address) (*UserRecord, error)
	Commit(pool *PoolState, users []*UserRecord) error
}

var (
	poolKey       = []byte("drip/pool")
	userKeyPrefix = []byte("drip/user/")
)

func userKey(addr common.Address) []byte {
	key := make([]byte, 0, len(userKeyPrefix)+common.AddressLength)
	key = append(key, userKeyPrefix...)
	return append(key, addr.Bytes()...)
}

// Store persists pool and user records in a key-value database using RLP.
type Store struct {
	db storage.Database
}

// NewStore wraps the database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

type storedPool struct {
	AccRewardPerShare       *uint256.Int
	LastRewardCheckpoint    uint64
	TotalBoostedShares      *uint256.Int
	RewardPerCheckpoint     *uint256.Int
	YearlySupplySnapshot    *uint256.Int
	YearAnchorTime          uint64
	LastMintTime            uint64
	ObservedMaxLockDuration uint64
}

type storedUser struct {
	StakeAmount      *uint256.Int
	BoostMultiplier  *uint256.Int
	RewardDebt       *uint256.Int
	LockStartTime    uint64
	LockEndTime      uint64
	CumulativeEarned *uint256.Int
}

func newStoredPool(p *PoolState) *storedPool {
	p = p.Clone()
	return &storedPool{
		AccRewardPerShare:       p.AccRewardPerShare,
		LastRewardCheckpoint:    p.LastRewardCheckpoint,
		TotalBoostedShares:      p.TotalBoostedShares,
		RewardPerCheckpoint:     p.RewardPerCheckpoint,
		YearlySupplySnapshot:    p.YearlySupplySnapshot,
		YearAnchorTime:          p.YearAnchorTime,
		LastMintTime:            p.LastMintTime,
		ObservedMaxLockDuration: p.ObservedMaxLockDuration,
	}
}

func (s *storedPool) toPool() *PoolState {
	pool := &PoolState{
		AccRewardPerShare:       s.AccRewardPerShare,
		LastRewardCheckpoint:    s.LastRewardCheckpoint,
		TotalBoostedShares:      s.TotalBoostedShares,
		RewardPerCheckpoint:     s.RewardPerCheckpoint,
		YearlySupplySnapshot:    s.YearlySupplySnapshot,
		YearAnchorTime:          s.YearAnchorTime,
		LastMintTime:            s.LastMintTime,
		ObservedMaxLockDuration: s.ObservedMaxLockDuration,
	}
	pool.ensureDefaults()
	return pool
}

func newStoredUser(u *UserRecord) *storedUser {
	u = u.Clone()
	return &storedUser{
		StakeAmount:      u.StakeAmount,
		BoostMultiplier:  u.BoostMultiplier,
		RewardDebt:       u.RewardDebt,
		LockStartTime:    u.LockStartTime,
		LockEndTime:      u.LockEndTime,
		CumulativeEarned: u.CumulativeEarned,
	}
}

func (s *storedUser) toUser(addr common.Address) *UserRecord {
	user := &UserRecord{
		Address:          addr,
		StakeAmount:      s.StakeAmount,
		BoostMultiplier:  s.BoostMultiplier,
		RewardDebt:       s.RewardDebt,
		LockStartTime:    s.LockStartTime,
		LockEndTime:      s.LockEndTime,
		CumulativeEarned: s.CumulativeEarned,
	}
	user.ensureDefaults()
	return user
}

// GetPool returns the persisted pool or nil when the pool was never created.
func (s *Store) GetPool() (*PoolState, error) {
	data, err := s.db.Get(poolKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drip store: read pool: %w", err)
	}
	var stored storedPool
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("drip store: decode pool: %w", err)
	}
	return stored.toPool(), nil
}

// GetUser returns the persisted record or nil when the user never deposited.
func (s *Store) GetUser(addr common.Address) (*UserRecord, error) {
	data, err := s.db.Get(userKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("drip store: read user: %w", err)
	}
	var stored storedUser
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("drip store: decode user: %w", err)
	}
	return stored.toUser(addr), nil
}

// Commit writes the pool and users in a single batch.
func (s *Store) Commit(pool *PoolState, users []*UserRecord) error {
	batch := s.db.NewBatch()
	if pool != nil {
		encoded, err := rlp.EncodeToBytes(newStoredPool(pool))
		if err != nil {
			return fmt.Errorf("drip store: encode pool: %w", err)
		}
		batch.Put(poolKey, encoded)
	}
	for _, user := range users {
		if user == nil {
			continue
		}
		encoded, err := rlp.EncodeToBytes(newStoredUser(user))
		if err != nil {
			return fmt.Errorf("drip store: encode user %s: %w", user.Address.Hex(), err)
		}
		batch.Put(userKey(user.Address), encoded)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("drip store: commit: %w", err)
	}
	return nil
}
