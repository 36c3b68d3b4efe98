// Package config implements the enumerated configuration objects from
// spec.md §6: one struct per component, all fields defaulted, partial
// configurations merging field-wise over defaults. Grounded on the
// teacher's internal/config/config.go (YAML decode, getEnv* helpers,
// applyDefaults/applyEnvOverrides passes), narrowed from the teacher's
// twenty-section Config down to the three components this repository
// actually has.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/ocx/synapse-core/internal/money"
)

// Config is the root configuration object, one sub-struct per component.
type Config struct {
	IntentEngine   IntentEngineConfig   `yaml:"intent_engine"`
	DisputeResolver DisputeResolverConfig `yaml:"dispute_resolver"`
	SafetyProtocol SafetyProtocolConfig `yaml:"safety_protocol"`
}

// IntentEngineConfig is C4's configuration (spec.md §6).
type IntentEngineConfig struct {
	RetentionPeriodMS         int64  `yaml:"retention_period_ms"`
	CleanupIntervalMS         int64  `yaml:"cleanup_interval_ms"`
	MaxIntents                int    `yaml:"max_intents"`
	MaxBidsPerIntent          int    `yaml:"max_bids_per_intent"`
	DefaultBiddingDurationMS  int64  `yaml:"default_bidding_duration_ms"`
	DefaultExecutionTimeoutMS int64  `yaml:"default_execution_timeout_ms"`
	FailoverTimeoutMS         int64  `yaml:"failover_timeout_ms"`
	MinBidAmount              string `yaml:"min_bid_amount"`
}

// DisputeResolverConfig is C7's configuration (spec.md §6).
type DisputeResolverConfig struct {
	EnableRealOracles      bool    `yaml:"enable_real_oracles"`
	EnableRealSlashing     bool    `yaml:"enable_real_slashing"`
	EvidenceTimeoutMS      int64   `yaml:"evidence_timeout_ms"`
	DeviationThreshold     float64 `yaml:"deviation_threshold"`
	SlashPercentage        float64 `yaml:"slash_percentage"`
	MinReputationPenalty   float64 `yaml:"min_reputation_penalty"`
	MaxReputationPenalty   float64 `yaml:"max_reputation_penalty"`
	PlatformWalletAddress  string  `yaml:"platform_wallet_address"`
}

// SafetyProtocolConfig is C8's configuration (spec.md §6).
type SafetyProtocolConfig struct {
	RateLimit         RateLimitConfig         `yaml:"rate_limit"`
	AnomalyDetection  AnomalyDetectionConfig  `yaml:"anomaly_detection"`
	CircuitBreaker    CircuitBreakerConfig    `yaml:"circuit_breaker"`
	CircularDetection CircularDetectionConfig `yaml:"circular_detection"`
	LargeTransaction  LargeTransactionConfig  `yaml:"large_transaction"`
}

type RateLimitConfig struct {
	MaxTxPerMinute    int    `yaml:"max_tx_per_minute"`
	MaxValuePerMinute string `yaml:"max_value_per_minute"`
	CooldownPeriodSec int    `yaml:"cooldown_period_sec"`
}

type AnomalyDetectionConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Sensitivity     float64 `yaml:"sensitivity"`
	MinTransactions int     `yaml:"min_transactions"`
	StdDevThreshold float64 `yaml:"std_dev_threshold"`
}

type CircuitBreakerConfig struct {
	Enabled            bool `yaml:"enabled"`
	FailureThreshold   int  `yaml:"failure_threshold"`
	FailureWindowSec   int  `yaml:"failure_window_sec"`
	RecoveryTimeoutSec int  `yaml:"recovery_timeout_sec"`
}

type CircularDetectionConfig struct {
	Enabled       bool `yaml:"enabled"`
	MaxHops       int  `yaml:"max_hops"`
	TimeWindowSec int  `yaml:"time_window_sec"`
}

type LargeTransactionConfig struct {
	Threshold           string `yaml:"threshold"`
	RequireConfirmation bool   `yaml:"require_confirmation"`
	DelaySeconds        int    `yaml:"delay_seconds"`
}

// Default returns the reference configuration from spec.md §6's defaults.
func Default() *Config {
	return &Config{
		IntentEngine: IntentEngineConfig{
			RetentionPeriodMS:         3_600_000,
			CleanupIntervalMS:         300_000,
			MaxIntents:                10_000,
			MaxBidsPerIntent:          100,
			DefaultBiddingDurationMS:  30_000,
			DefaultExecutionTimeoutMS: 120_000,
			FailoverTimeoutMS:         10_000,
			MinBidAmount:              "0.01",
		},
		DisputeResolver: DisputeResolverConfig{
			EnableRealOracles:     false,
			EnableRealSlashing:    false,
			EvidenceTimeoutMS:     300_000,
			DeviationThreshold:    0.05,
			SlashPercentage:       0.10,
			MinReputationPenalty:  0.1,
			MaxReputationPenalty:  0.5,
			PlatformWalletAddress: "",
		},
		SafetyProtocol: SafetyProtocolConfig{
			RateLimit: RateLimitConfig{
				MaxTxPerMinute:    60,
				MaxValuePerMinute: "10000",
				CooldownPeriodSec: 60,
			},
			AnomalyDetection: AnomalyDetectionConfig{
				Enabled:         true,
				Sensitivity:     1.0,
				MinTransactions: 10,
				StdDevThreshold: 2.0,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:            true,
				FailureThreshold:   5,
				FailureWindowSec:   60,
				RecoveryTimeoutSec: 30,
			},
			CircularDetection: CircularDetectionConfig{
				Enabled:       true,
				MaxHops:       4,
				TimeWindowSec: 3600,
			},
			LargeTransaction: LargeTransactionConfig{
				Threshold:           "1000",
				RequireConfirmation: true,
				DelaySeconds:        30,
			},
		},
	}
}

// Load reads a YAML file at path and merges it field-wise over Default(),
// then applies environment overrides. A missing file is not an error — the
// defaults (plus any env overrides) are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			var fromFile Config
			if err := yaml.NewDecoder(f).Decode(&fromFile); err != nil {
				return nil, err
			}
			mergeOverDefaults(cfg, &fromFile)
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// mergeOverDefaults copies every non-zero field of override into base.
func mergeOverDefaults(base, override *Config) {
	ie := &override.IntentEngine
	if ie.RetentionPeriodMS != 0 {
		base.IntentEngine.RetentionPeriodMS = ie.RetentionPeriodMS
	}
	if ie.CleanupIntervalMS != 0 {
		base.IntentEngine.CleanupIntervalMS = ie.CleanupIntervalMS
	}
	if ie.MaxIntents != 0 {
		base.IntentEngine.MaxIntents = ie.MaxIntents
	}
	if ie.MaxBidsPerIntent != 0 {
		base.IntentEngine.MaxBidsPerIntent = ie.MaxBidsPerIntent
	}
	if ie.DefaultBiddingDurationMS != 0 {
		base.IntentEngine.DefaultBiddingDurationMS = ie.DefaultBiddingDurationMS
	}
	if ie.DefaultExecutionTimeoutMS != 0 {
		base.IntentEngine.DefaultExecutionTimeoutMS = ie.DefaultExecutionTimeoutMS
	}
	if ie.FailoverTimeoutMS != 0 {
		base.IntentEngine.FailoverTimeoutMS = ie.FailoverTimeoutMS
	}
	if ie.MinBidAmount != "" {
		base.IntentEngine.MinBidAmount = ie.MinBidAmount
	}

	dr := &override.DisputeResolver
	if dr.EvidenceTimeoutMS != 0 {
		base.DisputeResolver.EvidenceTimeoutMS = dr.EvidenceTimeoutMS
	}
	if dr.DeviationThreshold != 0 {
		base.DisputeResolver.DeviationThreshold = dr.DeviationThreshold
	}
	if dr.SlashPercentage != 0 {
		base.DisputeResolver.SlashPercentage = dr.SlashPercentage
	}
	if dr.MinReputationPenalty != 0 {
		base.DisputeResolver.MinReputationPenalty = dr.MinReputationPenalty
	}
	if dr.MaxReputationPenalty != 0 {
		base.DisputeResolver.MaxReputationPenalty = dr.MaxReputationPenalty
	}
	if dr.PlatformWalletAddress != "" {
		base.DisputeResolver.PlatformWalletAddress = dr.PlatformWalletAddress
	}
	base.DisputeResolver.EnableRealOracles = dr.EnableRealOracles
	base.DisputeResolver.EnableRealSlashing = dr.EnableRealSlashing

	sp := &override.SafetyProtocol
	if sp.RateLimit.MaxTxPerMinute != 0 {
		base.SafetyProtocol.RateLimit.MaxTxPerMinute = sp.RateLimit.MaxTxPerMinute
	}
	if sp.RateLimit.MaxValuePerMinute != "" {
		base.SafetyProtocol.RateLimit.MaxValuePerMinute = sp.RateLimit.MaxValuePerMinute
	}
	if sp.RateLimit.CooldownPeriodSec != 0 {
		base.SafetyProtocol.RateLimit.CooldownPeriodSec = sp.RateLimit.CooldownPeriodSec
	}
	if sp.AnomalyDetection.MinTransactions != 0 {
		base.SafetyProtocol.AnomalyDetection.MinTransactions = sp.AnomalyDetection.MinTransactions
	}
	if sp.AnomalyDetection.StdDevThreshold != 0 {
		base.SafetyProtocol.AnomalyDetection.StdDevThreshold = sp.AnomalyDetection.StdDevThreshold
	}
	if sp.AnomalyDetection.Sensitivity != 0 {
		base.SafetyProtocol.AnomalyDetection.Sensitivity = sp.AnomalyDetection.Sensitivity
	}
	if sp.CircuitBreaker.FailureThreshold != 0 {
		base.SafetyProtocol.CircuitBreaker.FailureThreshold = sp.CircuitBreaker.FailureThreshold
	}
	if sp.CircuitBreaker.FailureWindowSec != 0 {
		base.SafetyProtocol.CircuitBreaker.FailureWindowSec = sp.CircuitBreaker.FailureWindowSec
	}
	if sp.CircuitBreaker.RecoveryTimeoutSec != 0 {
		base.SafetyProtocol.CircuitBreaker.RecoveryTimeoutSec = sp.CircuitBreaker.RecoveryTimeoutSec
	}
	if sp.CircularDetection.MaxHops != 0 {
		base.SafetyProtocol.CircularDetection.MaxHops = sp.CircularDetection.MaxHops
	}
	if sp.CircularDetection.TimeWindowSec != 0 {
		base.SafetyProtocol.CircularDetection.TimeWindowSec = sp.CircularDetection.TimeWindowSec
	}
	if sp.LargeTransaction.Threshold != "" {
		base.SafetyProtocol.LargeTransaction.Threshold = sp.LargeTransaction.Threshold
	}
	if sp.LargeTransaction.DelaySeconds != 0 {
		base.SafetyProtocol.LargeTransaction.DelaySeconds = sp.LargeTransaction.DelaySeconds
	}
	base.SafetyProtocol.AnomalyDetection.Enabled = sp.AnomalyDetection.Enabled || base.SafetyProtocol.AnomalyDetection.Enabled
	base.SafetyProtocol.CircuitBreaker.Enabled = sp.CircuitBreaker.Enabled || base.SafetyProtocol.CircuitBreaker.Enabled
	base.SafetyProtocol.CircularDetection.Enabled = sp.CircularDetection.Enabled || base.SafetyProtocol.CircularDetection.Enabled
	base.SafetyProtocol.LargeTransaction.RequireConfirmation = sp.LargeTransaction.RequireConfirmation || base.SafetyProtocol.LargeTransaction.RequireConfirmation
}

// applyEnvOverrides mirrors the teacher's getEnv*-based override pass.
func (c *Config) applyEnvOverrides() {
	if v := getEnvInt("SYNAPSE_MAX_INTENTS", 0); v > 0 {
		c.IntentEngine.MaxIntents = v
	}
	if v := getEnvInt("SYNAPSE_MAX_BIDS_PER_INTENT", 0); v > 0 {
		c.IntentEngine.MaxBidsPerIntent = v
	}
	if v := getEnv("SYNAPSE_MIN_BID_AMOUNT", ""); v != "" {
		c.IntentEngine.MinBidAmount = v
	}
	c.DisputeResolver.PlatformWalletAddress = getEnv("SYNAPSE_PLATFORM_WALLET", c.DisputeResolver.PlatformWalletAddress)
	c.DisputeResolver.EnableRealSlashing = getEnvBool("SYNAPSE_ENABLE_REAL_SLASHING", c.DisputeResolver.EnableRealSlashing)
	c.DisputeResolver.EnableRealOracles = getEnvBool("SYNAPSE_ENABLE_REAL_ORACLES", c.DisputeResolver.EnableRealOracles)
	if v := getEnvFloat("SYNAPSE_DEVIATION_THRESHOLD", 0); v > 0 {
		c.DisputeResolver.DeviationThreshold = v
	}
	if v := getEnvInt("SYNAPSE_RATE_LIMIT_MAX_TX", 0); v > 0 {
		c.SafetyProtocol.RateLimit.MaxTxPerMinute = v
	}
}

// MinBidAmountParsed parses IntentEngineConfig.MinBidAmount into money.
func (c IntentEngineConfig) MinBidAmountParsed() money.Amount {
	amt, err := money.ParseAmount(c.MinBidAmount)
	if err != nil {
		return money.Zero
	}
	return amt
}

// MaxValuePerMinuteParsed parses RateLimitConfig.MaxValuePerMinute into money.
func (c RateLimitConfig) MaxValuePerMinuteParsed() money.Amount {
	amt, err := money.ParseAmount(c.MaxValuePerMinute)
	if err != nil {
		return money.Zero
	}
	return amt
}

// ThresholdParsed parses LargeTransactionConfig.Threshold into money.
func (c LargeTransactionConfig) ThresholdParsed() money.Amount {
	amt, err := money.ParseAmount(c.Threshold)
	if err != nil {
		return money.Zero
	}
	return amt
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
