package state

import (
	"StableLedger/internal/ledger"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

const (
	// BasisPoints is the scale of LiqThreshold, CloseFactor and the health factor divisor.
	BasisPoints uint64 = 10_000
	// BonusScale is the scale of LiqBonus (100_000 == 100%).
	BonusScale uint64 = 100_000
)

// Config holds the protocol parameters. It is created once and never
// mutated by the engine; every operation reads the same immutable value.
type Config struct {
	Authority       ledger.Principal `json:"authority" toml:"authority"`
	MintAddress     ledger.Principal `json:"mint_address" toml:"mint_address"`
	LiqThreshold    uint64           `json:"liq_threshold" toml:"liq_threshold"`         // basis points, e.g. 5000 = 50%
	LiqBonus        uint64           `json:"liq_bonus" toml:"liq_bonus"`                 // BonusScale units, e.g. 10_000 = 10%
	MinHealthFactor uint64           `json:"min_health_factor" toml:"min_health_factor"` // same scale as HealthFactor
	CloseFactor     uint64           `json:"close_factor" toml:"close_factor"`           // basis points of collateral per call
	Bump            uint8            `json:"bump" toml:"bump"`
	MintBump        uint8            `json:"mint_bump" toml:"mint_bump"`
}

// ValidateConfig checks that protocol parameters are within valid ranges.
func ValidateConfig(cfg *Config) error {
	if cfg.Authority.IsZero() {
		return fmt.Errorf("%w: authority must be set", ErrInvalidConfig)
	}
	if cfg.MintAddress.IsZero() {
		return fmt.Errorf("%w: mint_address must be set", ErrInvalidConfig)
	}
	if cfg.LiqThreshold == 0 {
		return fmt.Errorf("%w: liq_threshold must be > 0, got %d", ErrInvalidConfig, cfg.LiqThreshold)
	}
	if cfg.CloseFactor == 0 || cfg.CloseFactor > BasisPoints {
		return fmt.Errorf("%w: close_factor must be in (0, %d], got %d", ErrInvalidConfig, BasisPoints, cfg.CloseFactor)
	}
	if cfg.LiqBonus > BonusScale {
		return fmt.Errorf("%w: liq_bonus must be <= %d, got %d", ErrInvalidConfig, BonusScale, cfg.LiqBonus)
	}
	if cfg.MinHealthFactor == 0 {
		return fmt.Errorf("%w: min_health_factor must be > 0, got %d", ErrInvalidConfig, cfg.MinHealthFactor)
	}
	return nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (cfg *Config) CanonicalBytes() []byte {
	buf := make([]byte, 0, 98)
	buf = append(buf, cfg.Authority[:]...)
	buf = append(buf, cfg.MintAddress[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, cfg.LiqThreshold)
	buf = binary.LittleEndian.AppendUint64(buf, cfg.LiqBonus)
	buf = binary.LittleEndian.AppendUint64(buf, cfg.MinHealthFactor)
	buf = binary.LittleEndian.AppendUint64(buf, cfg.CloseFactor)
	buf = append(buf, cfg.Bump, cfg.MintBump)
	return buf
}

// ConfigStore holds the single protocol Config. Initialize succeeds once;
// readers get the same pointer for the life of the process.
type ConfigStore struct {
	cfg atomic.Pointer[Config]
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{}
}

// Initialize installs the config. The caller must be the config's authority.
func (s *ConfigStore) Initialize(caller ledger.Principal, cfg Config) error {
	if caller != cfg.Authority {
		return fmt.Errorf("%w: %w: %s is not authority %s", ErrInvalidConfig, ErrUnauthorized, caller, cfg.Authority)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return fmt.Errorf("%w: invalid config: %w", ErrInvalidConfig, err)
	}
	if !s.cfg.CompareAndSwap(nil, &cfg) {
		return ErrConfigAlreadyInitialized
	}
	return nil
}

// Get returns the config or ErrConfigNotInitialized.
func (s *ConfigStore) Get() (*Config, error) {
	cfg := s.cfg.Load()
	if cfg == nil {
		return nil, ErrConfigNotInitialized
	}
	return cfg, nil
}

// Restore installs a config loaded from a snapshot, bypassing the
// authority check that already ran when it was first created.
func (s *ConfigStore) Restore(cfg *Config) {
	if cfg == nil {
		return
	}
	c := *cfg
	s.cfg.Store(&c)
}
