package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlags_Defaults(t *testing.T) {
	clearEnv(t)
	ff := LoadFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureHTTPAPI, nil))
	assert.True(t, ff.IsEnabled(FeatureCalendar, nil))
	assert.False(t, ff.IsEnabled(FeatureSnapshotCache, nil))
	assert.False(t, ff.IsEnabled("does.not.exist", nil))
}

func TestFeatureFlags_Environment(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEATURE_SINKS_JOURNAL", "true")
	t.Setenv("FEATURE_SINKS_REDIS_BUS", "0")

	ff := LoadFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureJournal, nil))
	assert.False(t, ff.IsEnabled(FeatureRedisBus, nil))
}

func TestFeatureFlags_ApplyOverrides(t *testing.T) {
	clearEnv(t)
	ff := LoadFeatureFlags()

	require.NoError(t, ff.ApplyOverrides(map[string]string{FeatureAttachments: "false"}))
	assert.False(t, ff.IsEnabled(FeatureAttachments, nil))

	assert.Error(t, ff.ApplyOverrides(map[string]string{"sinks.unknown": "true"}))
	assert.ErrorIs(t, ff.ApplyOverrides(map[string]string{FeatureJournal: "150"}), ErrInvalidRolloutPercent)
}

func TestFeatureFlags_RolloutIsStablePerAccount(t *testing.T) {
	clearEnv(t)
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureJournal, 50))

	first := ff.ForAccount(FeatureJournal, "family")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.ForAccount(FeatureJournal, "family"))
	}

	enabled := 0
	for _, account := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l", "m", "n", "o", "p"} {
		if ff.ForAccount(FeatureJournal, account) {
			enabled++
		}
	}
	assert.Greater(t, enabled, 0)
	assert.Less(t, enabled, 16)
}

func TestFeatureFlags_AccountOverride(t *testing.T) {
	clearEnv(t)
	ff := LoadFeatureFlags()

	ff.SetAccountOverride("family", FeatureAttachments, false)

	assert.False(t, ff.ForAccount(FeatureAttachments, "family"))
	assert.True(t, ff.ForAccount(FeatureAttachments, "cousin"))

	require.NoError(t, ff.DisableFeature(FeatureAttachments))
	assert.False(t, ff.ForAccount(FeatureAttachments, "cousin"))
	assert.ErrorIs(t, ff.EnableFeature("nope"), ErrFeatureNotFound)
}
