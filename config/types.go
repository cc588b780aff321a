package config

// Engine configures the reward pool and the accounts it operates on.
type Engine struct {
	// Address is the engine's custody account on both token ledgers.
	Address string `toml:"Address"`
	// Owner is the single operator allowed to run admin actions.
	Owner string `toml:"Owner"`
	// Treasury, when set, is the vault rewards are minted into and released from.
	Treasury string `toml:"Treasury"`

	CheckpointMode      string `toml:"CheckpointMode"`
	RewardPerCheckpoint string `toml:"RewardPerCheckpoint"`
	StartCheckpoint     uint64 `toml:"StartCheckpoint"`

	// GenesisUnix and BlockIntervalSeconds derive block heights from wall time.
	GenesisUnix          int64  `toml:"GenesisUnix"`
	BlockIntervalSeconds uint64 `toml:"BlockIntervalSeconds"`

	LockingEnabled bool   `toml:"LockingEnabled"`
	MinLockSeconds uint64 `toml:"MinLockSeconds"`
	MaxLockSeconds uint64 `toml:"MaxLockSeconds"`
	BoostFactor    uint64 `toml:"BoostFactor"`

	// StakeFeeBps charges a burned fee on stake token transfers.
	StakeFeeBps uint64 `toml:"StakeFeeBps"`

	Emission Emission `toml:"emission"`
}

// Emission configures the time based reward mint schedule.
type Emission struct {
	Enabled        bool   `toml:"Enabled"`
	EmissionBps    uint64 `toml:"EmissionBps"`
	SecondsPerYear uint64 `toml:"SecondsPerYear"`
}

// Auth configures bearer token validation on the HTTP API.
type Auth struct {
	Enabled          bool   `toml:"Enabled"`
	HMACSecret       string `toml:"HMACSecret"`
	HMACSecretEnv    string `toml:"HMACSecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	ClockSkewSeconds uint64 `toml:"ClockSkewSeconds"`
}

// RateLimit bounds requests per client and route group.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// DevAccount seeds a balance on the in-process ledgers.
type DevAccount struct {
	Address string `toml:"Address"`
	Stake   string `toml:"Stake"`
	Reward  string `toml:"Reward"`
}
