// Package config provides layered YAML configuration for the caseworker
// engine, following the same precedence chain as the teacher's
// config.Loader: defaults -> user config -> project config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete caseworker configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	NATS       NATSConfig       `yaml:"nats"`
	Policy     PolicyConfig     `yaml:"policy"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Reaper     ReaperConfig     `yaml:"reaper"`
	HTTP       HTTPConfig       `yaml:"http"`
}

// StoreConfig configures the relational store.
type StoreConfig struct {
	// DSN is the sqlite data source name (file path, or ":memory:").
	DSN string `yaml:"dsn"`
}

// NATSConfig configures the durable task bus.
type NATSConfig struct {
	URL      string `yaml:"url"`
	Embedded bool   `yaml:"embedded"`
}

// PolicyConfig holds the Planner/Decisioner thresholds that spec.md §9
// calls out as environment-tunable policy inputs rather than hardcoded
// constants.
type PolicyConfig struct {
	// FeeAutoApproveMax is the fee amount at or below which ACCEPT_FEE is
	// proposed without negotiation (spec.md §4.6 rule 2).
	FeeAutoApproveMax float64 `yaml:"fee_auto_approve_max"`
	// FeeHardCap is the fee amount above which NEGOTIATE_FEE is forced
	// regardless of confidence.
	FeeHardCap float64 `yaml:"fee_hard_cap"`
	// AutoMinConfidence is the confidence floor for AUTO-mode
	// auto-execution (spec.md §4.7).
	AutoMinConfidence float64 `yaml:"auto_min_confidence"`
	// SupervisedMinConfidence is the confidence floor for SUPERVISED-mode
	// auto-execution of SEND_FOLLOWUP.
	SupervisedMinConfidence float64 `yaml:"supervised_min_confidence"`
	// EscalateBelowConfidence is the confidence below which an
	// acknowledgement gets no automatic follow-up and falls through to
	// ESCALATE (spec.md §4.6 rule 7); other rules ignore it.
	EscalateBelowConfidence float64 `yaml:"escalate_below_confidence"`
	// AutoSafeActions lists the action types eligible for AUTO
	// auto-execution (spec.md §4.7).
	AutoSafeActions []string `yaml:"auto_safe_actions"`
}

// DispatcherConfig configures durable task scheduling.
type DispatcherConfig struct {
	IdempotencyKeyTTL time.Duration `yaml:"idempotency_key_ttl"`
	DebounceDelay     time.Duration `yaml:"debounce_delay"`
}

// ReaperConfig configures the periodic sweep.
type ReaperConfig struct {
	Interval          time.Duration `yaml:"interval"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	WaitpointTTL      time.Duration `yaml:"waitpoint_ttl"`
	RunStuckThreshold time.Duration `yaml:"run_stuck_threshold"`
	PortalSoftTimeout time.Duration `yaml:"portal_soft_timeout"`
	PortalHardTimeout time.Duration `yaml:"portal_hard_timeout"`
}

// HTTPConfig configures the minimal HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with the thresholds named in spec.md as
// reasonable starting values for a fresh environment.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{DSN: "caseworker.db"},
		NATS:  NATSConfig{URL: "", Embedded: true},
		Policy: PolicyConfig{
			FeeAutoApproveMax:       25.00,
			FeeHardCap:              100.00,
			AutoMinConfidence:       0.7,
			SupervisedMinConfidence: 0.8,
			EscalateBelowConfidence: 0.5,
			AutoSafeActions:         []string{"SEND_FOLLOWUP", "ACCEPT_FEE", "SEND_STATUS_UPDATE"},
		},
		Dispatcher: DispatcherConfig{
			IdempotencyKeyTTL: time.Hour,
			DebounceDelay:     30 * time.Second,
		},
		Reaper: ReaperConfig{
			Interval:          60 * time.Second,
			LockTTL:           90 * time.Second,
			WaitpointTTL:      14 * 24 * time.Hour,
			RunStuckThreshold: 30 * time.Minute,
			PortalSoftTimeout: 5 * time.Minute,
			PortalHardTimeout: 15 * time.Minute,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Policy.FeeAutoApproveMax < 0 {
		return fmt.Errorf("policy.fee_auto_approve_max must be >= 0")
	}
	if c.Policy.FeeHardCap < c.Policy.FeeAutoApproveMax {
		return fmt.Errorf("policy.fee_hard_cap must be >= fee_auto_approve_max")
	}
	if c.Policy.AutoMinConfidence < 0 || c.Policy.AutoMinConfidence > 1 {
		return fmt.Errorf("policy.auto_min_confidence must be between 0 and 1")
	}
	if c.Policy.SupervisedMinConfidence < 0 || c.Policy.SupervisedMinConfidence > 1 {
		return fmt.Errorf("policy.supervised_min_confidence must be between 0 and 1")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	return nil
}

// Merge merges other into c; non-zero fields in other take precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Store.DSN != "" {
		c.Store.DSN = other.Store.DSN
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}
	if other.Policy.FeeAutoApproveMax != 0 {
		c.Policy.FeeAutoApproveMax = other.Policy.FeeAutoApproveMax
	}
	if other.Policy.FeeHardCap != 0 {
		c.Policy.FeeHardCap = other.Policy.FeeHardCap
	}
	if other.Policy.AutoMinConfidence != 0 {
		c.Policy.AutoMinConfidence = other.Policy.AutoMinConfidence
	}
	if other.Policy.SupervisedMinConfidence != 0 {
		c.Policy.SupervisedMinConfidence = other.Policy.SupervisedMinConfidence
	}
	if other.Policy.EscalateBelowConfidence != 0 {
		c.Policy.EscalateBelowConfidence = other.Policy.EscalateBelowConfidence
	}
	if len(other.Policy.AutoSafeActions) > 0 {
		c.Policy.AutoSafeActions = other.Policy.AutoSafeActions
	}
	if other.Dispatcher.IdempotencyKeyTTL != 0 {
		c.Dispatcher.IdempotencyKeyTTL = other.Dispatcher.IdempotencyKeyTTL
	}
	if other.Dispatcher.DebounceDelay != 0 {
		c.Dispatcher.DebounceDelay = other.Dispatcher.DebounceDelay
	}
	if other.Reaper.Interval != 0 {
		c.Reaper.Interval = other.Reaper.Interval
	}
	if other.Reaper.LockTTL != 0 {
		c.Reaper.LockTTL = other.Reaper.LockTTL
	}
	if other.Reaper.WaitpointTTL != 0 {
		c.Reaper.WaitpointTTL = other.Reaper.WaitpointTTL
	}
	if other.Reaper.RunStuckThreshold != 0 {
		c.Reaper.RunStuckThreshold = other.Reaper.RunStuckThreshold
	}
	if other.Reaper.PortalSoftTimeout != 0 {
		c.Reaper.PortalSoftTimeout = other.Reaper.PortalSoftTimeout
	}
	if other.Reaper.PortalHardTimeout != 0 {
		c.Reaper.PortalHardTimeout = other.Reaper.PortalHardTimeout
	}
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
}

// LoadFromFile loads configuration from a YAML file, starting from
// defaults so unset fields keep their default value.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes the configuration to path as YAML.
func SaveToFile(c *Config, path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
