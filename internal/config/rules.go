package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// GrowthRules are the operator-tunable knobs of the rules engine. The scoring
// weight tables are fixed algorithm constants and deliberately not in here.
type GrowthRules struct {
	Featuring  FeaturingRules  `mapstructure:"featuring"`
	Milestone  MilestoneRules  `mapstructure:"milestone"`
	Showcase   ShowcaseRules   `mapstructure:"showcase"`
	Engagement EngagementRules `mapstructure:"engagement"`
}

type FeaturingRules struct {
	ShareThreshold      int64                    `mapstructure:"shareThreshold"`
	ViralScoreThreshold float64                  `mapstructure:"viralScoreThreshold"`
	Durations           map[string]time.Duration `mapstructure:"durations"`
}

type MilestoneRules struct {
	ConvertedReferrals int64  `mapstructure:"convertedReferrals"`
	GrantTier          string `mapstructure:"grantTier"`
	GrantMonths        int    `mapstructure:"grantMonths"`
}

type ShowcaseRules struct {
	Cap           int `mapstructure:"cap"`
	RetentionDays int `mapstructure:"retentionDays"`
}

type EngagementRules struct {
	WindowDays int `mapstructure:"windowDays"`
}

func DefaultGrowthRules() GrowthRules {
	return GrowthRules{
		Featuring: FeaturingRules{
			ShareThreshold:      5,
			ViralScoreThreshold: 100,
			Durations: map[string]time.Duration{
				"free":       168 * time.Hour,
				"pro":        336 * time.Hour,
				"business":   504 * time.Hour,
				"enterprise": 720 * time.Hour,
			},
		},
		Milestone: MilestoneRules{
			ConvertedReferrals: 10,
			GrantTier:          "pro",
			GrantMonths:        12,
		},
		Showcase: ShowcaseRules{
			Cap:           50,
			RetentionDays: 30,
		},
		Engagement: EngagementRules{
			WindowDays: 30,
		},
	}
}

type GrowthRulesHolder struct {
	current atomic.Value // holds GrowthRules
}

// NewGrowthRulesHolder loads growth.yml, falls back to defaults when absent,
// and hot-reloads on file change.
func NewGrowthRulesHolder() (*GrowthRulesHolder, error) {
	v := viper.New()

	v.SetConfigName("growth")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/growth/config")
	v.AddConfigPath("/etc/growth")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GROWTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg := DefaultGrowthRules()
	if fileFound {
		if err := v.UnmarshalKey("growth", &cfg); err != nil {
			return nil, err
		}
	}
	if err := validateGrowthRules(cfg); err != nil {
		return nil, err
	}

	holder := &GrowthRulesHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultGrowthRules()
		if err := v.UnmarshalKey("growth", &updated); err != nil {
			log.Printf("[growth-rules] reload failed: %v", err)
			return
		}
		if err := validateGrowthRules(updated); err != nil {
			log.Printf("[growth-rules] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[growth-rules] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticGrowthRules wraps fixed rules without file watching, for tests.
func NewStaticGrowthRules(rules GrowthRules) *GrowthRulesHolder {
	holder := &GrowthRulesHolder{}
	holder.current.Store(rules)
	return holder
}

func (h *GrowthRulesHolder) Get() GrowthRules {
	return h.current.Load().(GrowthRules)
}

var subscriptionTiers = []string{"free", "pro", "business", "enterprise"}

func validateGrowthRules(cfg GrowthRules) error {
	if cfg.Featuring.ShareThreshold <= 0 {
		return errors.New("growth.featuring.shareThreshold must be positive")
	}
	if cfg.Featuring.ViralScoreThreshold <= 0 {
		return errors.New("growth.featuring.viralScoreThreshold must be positive")
	}
	for _, tier := range subscriptionTiers {
		if d, ok := cfg.Featuring.Durations[tier]; !ok || d <= 0 {
			return fmt.Errorf("growth.featuring.durations missing tier %q", tier)
		}
	}
	if cfg.Milestone.ConvertedReferrals <= 0 {
		return errors.New("growth.milestone.convertedReferrals must be positive")
	}
	switch cfg.Milestone.GrantTier {
	case "pro", "business", "enterprise":
	default:
		return fmt.Errorf("growth.milestone.grantTier %q is not a paid tier", cfg.Milestone.GrantTier)
	}
	if cfg.Milestone.GrantMonths <= 0 {
		return errors.New("growth.milestone.grantMonths must be positive")
	}
	if cfg.Showcase.Cap <= 0 {
		return errors.New("growth.showcase.cap must be positive")
	}
	if cfg.Showcase.RetentionDays <= 0 {
		return errors.New("growth.showcase.retentionDays must be positive")
	}
	if cfg.Engagement.WindowDays <= 0 {
		return errors.New("growth.engagement.windowDays must be positive")
	}
	return nil
}
