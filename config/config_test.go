package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CLASSEVIVA_USERNAME", "CLASSEVIVA_PASSWORD", "CLASSEVIVA_STUDENT_SURNAME",
		"POLL_INTERVAL", "POLL_CRON", "POLL_AGENDA_LOOKAHEAD_DAYS",
		"LOG_LEVEL", "HTTP_ADDR", "APP_ENVIRONMENT",
		"FEATURE_SINKS_JOURNAL", "FEATURE_SINKS_REDIS_BUS",
	} {
		// t.Setenv restores the previous value on cleanup.
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnvFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_SingleAccountFromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLASSEVIVA_USERNAME", "S1234567X")
	t.Setenv("CLASSEVIVA_PASSWORD", "secret")
	t.Setenv("CLASSEVIVA_STUDENT_SURNAME", "Rossi")

	cfg, err := Load(LoadOptions{EnvFile: noEnvFile(t)})
	require.NoError(t, err)

	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, AccountConfig{Name: "default", Username: "S1234567X", Password: "secret", StudentSurname: "Rossi"}, cfg.Accounts[0])

	assert.Equal(t, 60*time.Minute, cfg.Poll.Interval)
	assert.Equal(t, 30, cfg.Poll.AgendaLookaheadDays)
	assert.Equal(t, 60*24*time.Hour, cfg.Attachments.Retention)
	assert.Equal(t, "https://web.spaggiari.eu/rest/v1", cfg.Classeviva.BaseURL)
	assert.Equal(t, "zorro/1.0", cfg.Classeviva.UserAgent)
	assert.Equal(t, "+zorro+", cfg.Classeviva.APIKey)
	assert.Equal(t, "Europe/Rome", cfg.App.Location.String())
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.Features.IsEnabled(FeatureAttachments, nil))
	assert.False(t, cfg.Features.IsEnabled(FeatureJournal, nil))
}

func TestLoad_FileEnvironmentAndFlags(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", `
accounts:
  - name: family
    username: S1111111A
    password: one
    student_surname: Bianchi
  - name: cousin
    username: S2222222B
    password: two
poll:
  cron: "30 7 * * 1-5"
  agenda_lookahead_days: 21
features:
  sinks:
    journal: true
    redis_bus: 50
`)
	t.Setenv("POLL_AGENDA_LOOKAHEAD_DAYS", "14")

	flags := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.String("http-addr", ":8080", "")
	require.NoError(t, flags.Parse([]string{"--log-level=debug"}))

	cfg, err := Load(LoadOptions{File: path, EnvFile: noEnvFile(t), Flags: flags})
	require.NoError(t, err)

	require.Len(t, cfg.Accounts, 2)
	assert.Equal(t, "family", cfg.Accounts[0].Name)
	assert.Equal(t, "Bianchi", cfg.Accounts[0].StudentSurname)
	assert.Equal(t, "30 7 * * 1-5", cfg.Poll.Cron)
	assert.Equal(t, 14, cfg.Poll.AgendaLookaheadDays, "environment wins over the file")
	assert.Equal(t, "debug", cfg.Log.Level, "changed flags win over everything")
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.Features.IsEnabled(FeatureJournal, nil))
	assert.Equal(t, 50, cfg.Features.GetAllFeatures()[FeatureRedisBus].RolloutPercent)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	envFile := writeFile(t, ".env", "CLASSEVIVA_USERNAME=S7654321Z\nCLASSEVIVA_PASSWORD=pw\n")

	cfg, err := Load(LoadOptions{EnvFile: envFile})
	require.NoError(t, err)

	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "S7654321Z", cfg.Accounts[0].Username)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(LoadOptions{File: filepath.Join(t.TempDir(), "nope.yaml"), EnvFile: noEnvFile(t)})
	assert.Error(t, err)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no accounts", "app:\n  name: x\n", "no accounts configured"},
		{
			"duplicate names",
			"accounts:\n  - {name: a, username: u1, password: p}\n  - {name: a, username: u2, password: p}\n",
			`duplicate account name "a"`,
		},
		{
			"bad account name",
			"accounts:\n  - {name: \"a/b\", username: u1, password: p}\n",
			"account_name",
		},
		{
			"bad cron",
			"accounts:\n  - {name: a, username: u1, password: p}\npoll:\n  cron: \"every day\"\n",
			"poll.cron",
		},
		{
			"short interval",
			"accounts:\n  - {name: a, username: u1, password: p}\npoll:\n  interval: 10s\n",
			"poll.interval must be at least 1m",
		},
		{
			"bad log level",
			"accounts:\n  - {name: a, username: u1, password: p}\nlog:\n  level: loud\n",
			"Level",
		},
		{
			"bad http addr",
			"accounts:\n  - {name: a, username: u1, password: p}\nhttp:\n  addr: \"8080\"\n",
			"http.addr",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			path := writeFile(t, "config.yaml", tt.yaml)

			_, err := Load(LoadOptions{File: path, EnvFile: noEnvFile(t)})

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHTTPConfig_HostPort(t *testing.T) {
	host, port, err := HTTPConfig{Addr: ":9000"}.HostPort()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", host)
	assert.Equal(t, 9000, port)

	host, port, err = HTTPConfig{Addr: "127.0.0.1:8081"}.HostPort()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 8081, port)

	_, _, err = HTTPConfig{Addr: "localhost:http"}.HostPort()
	assert.Error(t, err)
}
