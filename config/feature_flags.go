package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags toggles the optional sinks and surfaces of the poller.
// A flag can be rolled out to a share of the accounts; the share an
// account falls in depends only on the flag and account names.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// accountOverrides forces a flag for one account.
	accountOverrides map[string]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// RolloutPercent of accounts (0-100) that see the feature.
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	Account string
}

// Predefined feature flag names.
const (
	FeatureRedisBus      = "sinks.redis_bus"      // fan notifications out over redis pub/sub
	FeatureSnapshotCache = "sinks.snapshot_cache" // persist snapshots in redis
	FeatureJournal       = "sinks.journal"        // record notifications in postgres
	FeatureAttachments   = "sinks.attachments"    // download didactics files
	FeatureHTTPAPI       = "http.api"             // serve the read surface
	FeatureCalendar      = "http.calendar"        // serve agenda.ics
)

// LoadFeatureFlags builds the flags from defaults and FEATURE_* variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		accountOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	defaults := []Feature{
		{Name: FeatureRedisBus, Description: "Publish notifications on redis pub/sub"},
		{Name: FeatureSnapshotCache, Description: "Cache the last snapshot of every account in redis"},
		{Name: FeatureJournal, Description: "Record notifications in the postgres journal"},
		{Name: FeatureAttachments, Description: "Download new didactics files", Enabled: true, RolloutPercent: 100},
		{Name: FeatureHTTPAPI, Description: "Serve snapshots, files and triggers over HTTP", Enabled: true, RolloutPercent: 100},
		{Name: FeatureCalendar, Description: "Export the agenda as iCalendar", Enabled: true, RolloutPercent: 100},
	}
	for i := range defaults {
		f := defaults[i]
		ff.features[f.Name] = &f
	}
}

// loadFromEnvironment reads FEATURE_SINKS_JOURNAL=true style variables.
// A number sets the rollout percentage.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name := range ff.features {
		if val := os.Getenv(featureNameToEnvKey(name)); val != "" {
			_ = ff.set(name, val)
		}
	}
}

// ApplyOverrides applies the features section of the config file, keyed
// by flag name. Values are booleans or rollout percentages.
func (ff *FeatureFlags) ApplyOverrides(values map[string]string) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	for name, val := range values {
		if err := ff.set(name, val); err != nil {
			return err
		}
	}
	return nil
}

func (ff *FeatureFlags) set(name, val string) error {
	feature, ok := ff.features[name]
	if !ok {
		return &FeatureFlagError{Message: "unknown feature " + strconv.Quote(name)}
	}
	val = strings.TrimSpace(val)
	if b, err := strconv.ParseBool(val); err == nil {
		feature.Enabled = b
		feature.RolloutPercent = 0
		if b {
			feature.RolloutPercent = 100
		}
		return nil
	}
	p, err := strconv.Atoi(val)
	if err != nil || p < 0 || p > 100 {
		return ErrInvalidRolloutPercent
	}
	feature.Enabled = p > 0
	feature.RolloutPercent = p
	return nil
}

// featureNameToEnvKey converts "sinks.redis_bus" to "FEATURE_SINKS_REDIS_BUS".
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled, for one account when ctx is
// given. Without an account a partially rolled out feature counts as on.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.Account != "" {
		if overrides, ok := ff.accountOverrides[ctx.Account]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.Account != "" {
		return inRollout(ctx.Account, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// ForAccount is IsEnabled for one account.
func (ff *FeatureFlags) ForAccount(featureName, account string) bool {
	return ff.IsEnabled(featureName, &FeatureContext{Account: account})
}

func inRollout(account, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(account))
	return int(h.Sum32()%100) < percent
}

// SetAccountOverride forces featureName for account.
func (ff *FeatureFlags) SetAccountOverride(account, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.accountOverrides[account]; !ok {
		ff.accountOverrides[account] = make(map[string]bool)
	}
	ff.accountOverrides[account][featureName] = enabled
}

// SetRolloutPercent updates the share of accounts seeing a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature for every account.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature for every account.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns copies of every flag.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
