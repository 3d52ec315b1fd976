package backend

import (
	"fmt"
	"strings"
	"time"
)

// Config controls API construction.
type Config struct {
	Mode    string
	BaseURL string
	Timeout time.Duration
}

// NewAPI returns the HTTP client when a base URL is configured, otherwise a
// seeded mock. The second return value names the resolved mode.
func NewAPI(cfg Config) (API, string, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)

	switch mode {
	case "http":
		if baseURL == "" {
			return nil, "", fmt.Errorf("backend base url is required for http mode")
		}
		return NewClient(baseURL, cfg.Timeout), "http", nil
	case "mock":
		return NewMockBackend().SeedDemo(), "mock", nil
	case "auto":
		if baseURL != "" {
			return NewClient(baseURL, cfg.Timeout), "http", nil
		}
		return NewMockBackend().SeedDemo(), "mock", nil
	default:
		return nil, "", fmt.Errorf("unsupported backend mode %q", cfg.Mode)
	}
}
