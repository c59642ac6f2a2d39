package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/restpipe/internal/pkg/config"
	"github.com/tjfontaine/restpipe/internal/transport"
)

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithConfigFile loads pipes, auth modules and stores from a YAML file,
// overlaid with RESTPIPE_ environment variables.
func WithConfigFile(path string) Option {
	return func(c *Client) error {
		if path == "" {
			return fmt.Errorf("config file path is empty")
		}
		c.configPath = path
		return nil
	}
}

// WithConfig uses an already loaded configuration. It takes precedence
// over WithConfigFile.
func WithConfig(cfg *config.Config) Option {
	return func(c *Client) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		c.cfg = cfg
		return nil
	}
}

// WithBaseURL sets the base URL for pipes and auth modules that set none.
// It takes precedence over the configuration's base_url.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		c.baseURL = baseURL
		return nil
	}
}

// WithHTTPClient sets the HTTP client used by the default executor.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = httpClient
		return nil
	}
}

// WithExecutor replaces the HTTP executor entirely, e.g. with a test double.
func WithExecutor(executor transport.Executor) Option {
	return func(c *Client) error {
		c.executor = executor
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return fmt.Errorf("logger is nil")
		}
		c.logger = logger
		return nil
	}
}
