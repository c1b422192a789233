package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, 3000, config.Server.Port)
	assert.Equal(t, 10, config.Queue.KeepCompleted)
	assert.Equal(t, 50, config.Queue.KeepFailed)
	assert.Equal(t, 0, config.Queue.DefaultAttempts)
	assert.Equal(t, 67, config.Pacing.WordsPerMinute)
	assert.Equal(t, "0 */1 * * *", config.Scheduler.InboxSchedule)
	assert.False(t, config.Scheduler.StatusCheckEnabled)
	assert.NoError(t, config.Validate())
}

func TestLoadFromFiles_MergesInOrder(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
[server]
port = 4000
host = "0.0.0.0"

[browser]
engine = "rod"
headless = false
`), 0644))
	require.NoError(t, os.WriteFile(override, []byte(`
[server]
port = 5000
`), 0644))

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, 5000, config.Server.Port)
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.Equal(t, "rod", config.Browser.Engine)
	assert.False(t, config.Browser.Headless)
	// Untouched sections keep their defaults
	assert.Equal(t, "30s", config.Pacing.ConnectDelayMin)
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("OUTREACH_SERVER_PORT", "3999")
	t.Setenv("OUTREACH_BROWSER_HEADLESS", "false")
	t.Setenv("OUTREACH_LOG_OUTPUT", "stdout, file")
	t.Setenv("OUTREACH_TELEGRAM_TOKEN", "123:abc")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, 3999, config.Server.Port)
	assert.False(t, config.Browser.Headless)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
	assert.True(t, config.Challenge.Telegram.Enabled)
}

func TestLoadFromFiles_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[scheduler]
inbox_schedule = "every hour"
`), 0644))

	_, err := LoadFromFiles(path)
	assert.Error(t, err)

	_, err = LoadFromFiles(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	ApplyFlagOverrides(config, 0, "")
	assert.Equal(t, 3000, config.Server.Port)

	ApplyFlagOverrides(config, 8080, "127.0.0.1")
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, "127.0.0.1", config.Server.Host)
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"0 */1 * * *", false},
		{"*/1 * * * *", false},
		{"30 */3 * * *", false},
		{"* * *", true},
		{"not a schedule", true},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			err := ValidateSchedule(tt.schedule)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, ParseDuration("30s", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("", time.Minute))
	assert.Equal(t, time.Minute, ParseDuration("soon", time.Minute))
}
