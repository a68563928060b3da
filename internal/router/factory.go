package router

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ireland-samantha/zia-gateway/internal/config"
)

// FromConfig builds a Router over the configured endpoints, in order.
func FromConfig(cfg config.RouteConfig, logger *slog.Logger) (*Router, error) {
	client := &http.Client{}

	backends := make([]Backend, 0, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		switch ep.Kind {
		case config.KindHTTP, "":
			backends = append(backends, NewHTTPBackend(ep.URL, ep.APIKey, client))
		case config.KindAnthropic:
			backends = append(backends, NewAnthropicBackend(AnthropicConfig{
				APIKey:       ep.APIKey,
				BaseURL:      ep.URL,
				DefaultModel: ep.DefaultModel,
				HTTPClient:   client,
			}))
		default:
			return nil, fmt.Errorf("route.endpoints[%d]: unknown kind %q", i, ep.Kind)
		}
	}

	return New(backends, cfg.Timeout, logger), nil
}
