package browser

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/models"
)

func TestErrorScreenshotPath(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	path := ErrorScreenshotPath("artifacts", "connect", "connect_1700000000000_abc123xyz", now)
	assert.Equal(t, filepath.Join("artifacts", "connect_error_connect_1700000000000_abc123xyz_1700000000123.png"), path)
}

func TestErrorScreenshotPathSanitizesIDs(t *testing.T) {
	path := ErrorScreenshotPath("out", "reply", "../../etc/passwd", time.UnixMilli(5))
	assert.Equal(t, "out", filepath.Dir(path))
	assert.NotContains(t, filepath.Base(path), "/")
}

func TestRecordingDir(t *testing.T) {
	dir := RecordingDir("artifacts", "status-check", "job 1", time.UnixMilli(42))
	assert.Equal(t, filepath.Join("artifacts", "recordings", "status-check_job-1_42"), dir)
}

func TestNewDriverSelectsEngine(t *testing.T) {
	logger := arbor.NewNoOpLogger()

	d, err := NewDriver(common.BrowserConfig{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &ChromedpDriver{}, d)

	d, err = NewDriver(common.BrowserConfig{Engine: "Rod"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &RodDriver{}, d)

	_, err = NewDriver(common.BrowserConfig{Engine: "webkit"}, logger)
	assert.Error(t, err)
}

func TestCookieParamsDropPastExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	cookies := []models.Cookie{
		{Name: "li_at", Value: "a", Domain: ".linkedin.com", Expires: 2000, SameSite: "None"},
		{Name: "old", Value: "b", Domain: ".linkedin.com", Expires: 500},
		{Name: "sess", Value: "c", Domain: ".linkedin.com", Expires: -1, Session: true},
	}

	params := toCookieParams(cookies, now)
	require.Len(t, params, 3)
	require.NotNil(t, params[0].Expires)
	assert.Equal(t, int64(2000), time.Time(*params[0].Expires).Unix())
	assert.Equal(t, "/", params[0].Path)
	assert.Equal(t, "None", params[0].SameSite.String())
	assert.Nil(t, params[1].Expires)
	assert.Nil(t, params[2].Expires)

	rodParams := toRodCookieParams(cookies, now)
	require.Len(t, rodParams, 3)
	assert.Equal(t, float64(2000), float64(rodParams[0].Expires))
	assert.Zero(t, rodParams[1].Expires)
}
