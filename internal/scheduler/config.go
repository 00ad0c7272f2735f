package scheduler

import (
	"time"

	appconfig "github.com/siteloom/growth/internal/config"
)

// Config controls the sweep loop interval, batch sizes and which jobs a
// deployment runs.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	JobTimeout        time.Duration
	RecoveryThreshold time.Duration

	FeaturingExpiry    bool
	ViralReeval        bool
	ShowcaseRefresh    bool
	CommissionReeval   bool
	GrantExpiry        bool
	SideEffectDispatch bool
	EventRecovery      bool
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        time.Minute,
		BatchSize:          50,
		JobTimeout:         30 * time.Second,
		RecoveryThreshold:  15 * time.Minute,
		FeaturingExpiry:    true,
		ViralReeval:        true,
		ShowcaseRefresh:    true,
		CommissionReeval:   true,
		GrantExpiry:        true,
		SideEffectDispatch: true,
		EventRecovery:      true,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	return c
}

// ProvideConfig maps the env-driven application config onto the scheduler.
func ProvideConfig(cfg appconfig.Config) Config {
	return Config{
		RunInterval:        cfg.Scheduler.RunInterval,
		BatchSize:          cfg.Scheduler.BatchSize,
		JobTimeout:         cfg.Scheduler.JobTimeout,
		RecoveryThreshold:  cfg.Scheduler.RecoveryThreshold,
		FeaturingExpiry:    cfg.Scheduler.FeaturingExpiryEnabled,
		ViralReeval:        cfg.Scheduler.ViralReevalEnabled,
		ShowcaseRefresh:    cfg.Scheduler.ShowcaseRefreshEnabled,
		CommissionReeval:   cfg.Scheduler.CommissionReevalEnabled,
		GrantExpiry:        cfg.Scheduler.GrantExpiryEnabled,
		SideEffectDispatch: cfg.Scheduler.SideEffectDispatch,
		EventRecovery:      cfg.Scheduler.EventRecoveryEnabled,
	}.withDefaults()
}
