package browser

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/interfaces"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// sanitize keeps ids usable as file name segments
func sanitize(s string) string {
	s = unsafeChars.ReplaceAllString(s, "-")
	if s == "" {
		return "unknown"
	}
	return s
}

// ErrorScreenshotPath is <dir>/<kind>_error_<id>_<unix-ms>.png
func ErrorScreenshotPath(dir, kind, id string, now time.Time) string {
	name := fmt.Sprintf("%s_error_%s_%d.png", sanitize(kind), sanitize(id), now.UnixMilli())
	return filepath.Join(dir, name)
}

// RecordingDir is <dir>/recordings/<kind>_<id>_<unix-ms>
func RecordingDir(dir, kind, id string, now time.Time) string {
	name := fmt.Sprintf("%s_%s_%d", sanitize(kind), sanitize(id), now.UnixMilli())
	return filepath.Join(dir, "recordings", name)
}

// CaptureFailure takes a best-effort screenshot and returns its path, or ""
func CaptureFailure(ctx context.Context, session interfaces.BrowserSession, dir, kind, id string, logger arbor.ILogger) string {
	if session == nil || dir == "" {
		return ""
	}
	path := ErrorScreenshotPath(dir, kind, id, time.Now())

	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := session.Screenshot(shotCtx, path); err != nil {
		logger.Warn().Err(err).Str("kind", kind).Str("id", id).Msg("Failed to capture error screenshot")
		return ""
	}
	logger.Info().Str("path", path).Msg("Error screenshot saved")
	return path
}
