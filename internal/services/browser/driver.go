package browser

import (
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/outreach/internal/common"
	"github.com/ternarybob/outreach/internal/interfaces"
)

const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// NewDriver returns the browser driver selected by config.Engine
func NewDriver(config common.BrowserConfig, logger arbor.ILogger) (interfaces.BrowserDriver, error) {
	switch strings.ToLower(strings.TrimSpace(config.Engine)) {
	case "", EngineChromedp:
		return NewChromedpDriver(config, logger), nil
	case EngineRod:
		return NewRodDriver(config, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q", config.Engine)
	}
}
