package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the effective runtime settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("Outreach", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("host", config.Server.Host).
		Int("port", config.Server.Port).
		Str("browser_engine", config.Browser.Engine).
		Bool("headless", config.Browser.Headless).
		Str("auth_store", config.Auth.Store).
		Bool("scheduler", config.Scheduler.Enabled).
		Msg("Outreach starting")
}
