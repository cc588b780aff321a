package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`
	LogLevel      string `toml:"LogLevel"`
	// ShutdownSeconds bounds graceful HTTP shutdown.
	ShutdownSeconds uint64 `toml:"ShutdownSeconds"`

	Engine    Engine               `toml:"engine"`
	Auth      Auth                 `toml:"auth"`
	RateLimit map[string]RateLimit `toml:"rate_limit"`
	Dev       []DevAccount         `toml:"dev_accounts"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the devnet configuration.
func Default() *Config {
	return &Config{
		ListenAddress:   ":8090",
		DataDir:         "./drip-data",
		Environment:     "dev",
		LogLevel:        "info",
		ShutdownSeconds: 10,
		Engine: Engine{
			Address:              "0x000000000000000000000000000000000000d1e0",
			Owner:                "0x000000000000000000000000000000000000a0a0",
			CheckpointMode:       "block",
			RewardPerCheckpoint:  "10000000000000000000",
			BlockIntervalSeconds: 5,
			LockingEnabled:       true,
			MinLockSeconds:       7 * 24 * 60 * 60,
			MaxLockSeconds:       4 * 365 * 24 * 60 * 60,
			BoostFactor:          1,
			Emission: Emission{
				SecondsPerYear: 365 * 24 * 60 * 60,
			},
		},
		Auth: Auth{
			Issuer:           "dripd",
			HMACSecretEnv:    "DRIP_JWT_SECRET",
			ClockSkewSeconds: 120,
		},
		RateLimit: map[string]RateLimit{
			"query":  {RequestsPerMinute: 600, Burst: 60},
			"mutate": {RequestsPerMinute: 60, Burst: 10},
		},
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	if c.ShutdownSeconds == 0 {
		c.ShutdownSeconds = 10
	}
	if c.Engine.BoostFactor == 0 {
		c.Engine.BoostFactor = 1
	}
	if c.Engine.Emission.SecondsPerYear == 0 {
		c.Engine.Emission.SecondsPerYear = 365 * 24 * 60 * 60
	}
	if c.RateLimit == nil {
		c.RateLimit = map[string]RateLimit{}
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
