package config

import (
	"hash/fnv"
	"strings"
	"sync"
)

// Feature names understood by FeatureFlags.
const (
	FeaturePromotionBonus = "promotion_bonus" // ML Coins granted on rank-up
	FeaturePrestige       = "prestige"        // POST /prestige
	FeatureRemoteSync     = "remote_sync"     // refresh from the rank API
)

// FeatureConfig holds raw feature toggles from the environment.
type FeatureConfig struct {
	PromotionBonus  bool `env:"PROMOTION_BONUS" envDefault:"false"`
	Prestige        bool `env:"PRESTIGE" envDefault:"true"`
	PrestigeRollout int  `env:"PRESTIGE_ROLLOUT" envDefault:"100"`
	RemoteSync      bool `env:"REMOTE_SYNC" envDefault:"true"`

	// Overrides are "user:feature=on|off" entries.
	Overrides []string `env:"OVERRIDES" envSeparator:","`
}

// FeatureFlags evaluates toggles per user.
type FeatureFlags struct {
	mu        sync.RWMutex
	enabled   map[string]bool
	rollout   map[string]int
	overrides map[string]map[string]bool
}

// NewFeatureFlags builds flags from configuration.
func NewFeatureFlags(cfg FeatureConfig) *FeatureFlags {
	ff := &FeatureFlags{
		enabled: map[string]bool{
			FeaturePromotionBonus: cfg.PromotionBonus,
			FeaturePrestige:       cfg.Prestige,
			FeatureRemoteSync:     cfg.RemoteSync,
		},
		rollout: map[string]int{
			FeaturePrestige: cfg.PrestigeRollout,
		},
		overrides: make(map[string]map[string]bool),
	}

	for _, raw := range cfg.Overrides {
		user, rest, ok := strings.Cut(strings.TrimSpace(raw), ":")
		if !ok {
			continue
		}
		name, val, ok := strings.Cut(rest, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(val) {
		case "on", "true", "1":
			ff.setOverride(user, name, true)
		case "off", "false", "0":
			ff.setOverride(user, name, false)
		}
	}
	return ff
}

// Enabled reports the global state of a feature, ignoring rollout and overrides.
func (ff *FeatureFlags) Enabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	return ff.enabled[name]
}

// IsEnabled checks a feature for one user.
func (ff *FeatureFlags) IsEnabled(name, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if byUser, ok := ff.overrides[userID]; ok {
		if v, ok := byUser[name]; ok {
			return v
		}
	}
	if !ff.enabled[name] {
		return false
	}
	percent, ok := ff.rollout[name]
	if !ok || percent >= 100 {
		return true
	}
	return inRollout(userID, name, percent)
}

// SetUserOverride forces a feature on or off for a user.
func (ff *FeatureFlags) SetUserOverride(userID, name string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.setOverride(userID, name, enabled)
}

func (ff *FeatureFlags) setOverride(userID, name string, enabled bool) {
	if _, ok := ff.overrides[userID]; !ok {
		ff.overrides[userID] = make(map[string]bool)
	}
	ff.overrides[userID][name] = enabled
}

// inRollout buckets a user deterministically into 0..99.
func inRollout(userID, name string, percent int) bool {
	if percent <= 0 {
		return false
	}
	h := fnv.New32a()
	h.Write([]byte(name))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}
