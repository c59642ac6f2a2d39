// Package runtime provides Client, which assembles the pipes, auth modules
// and stores of a restpipe configuration around one shared executor.
package runtime

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tjfontaine/restpipe/internal/auth"
	"github.com/tjfontaine/restpipe/internal/pipe"
	"github.com/tjfontaine/restpipe/internal/pkg/config"
	"github.com/tjfontaine/restpipe/internal/store"
	"github.com/tjfontaine/restpipe/internal/transport"
)

// Client owns the three registries. Pipes, auth modules and stores may be
// added directly through them after New.
type Client struct {
	Pipeline      *pipe.Pipeline
	Authenticator *auth.Authenticator
	DataManager   *store.DataManager

	mu  sync.Mutex
	cfg *config.Config

	// Set by options.
	configPath string
	baseURL    string
	httpClient *http.Client
	executor   transport.Executor
	logger     *slog.Logger
}

// New creates a Client. Without options it has empty registries and a
// default HTTP executor.
func New(opts ...Option) (*Client, error) {
	c := &Client{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	cfg := c.cfg
	c.cfg = nil
	if cfg == nil && c.configPath != "" {
		loaded, err := config.Load(c.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	if c.executor == nil {
		execOpts := []transport.ExecutorOption{transport.WithLogger(c.logger)}
		if c.httpClient != nil {
			execOpts = append(execOpts, transport.WithHTTPClient(c.httpClient))
		}
		c.executor = transport.NewHTTPExecutor(execOpts...)
	}

	defaultBaseURL := c.baseURL
	if defaultBaseURL == "" && cfg != nil {
		defaultBaseURL = cfg.BaseURL
	}
	c.Pipeline = pipe.NewPipeline(
		pipe.WithBaseURL(defaultBaseURL),
		pipe.WithExecutor(c.executor),
		pipe.WithLogger(c.logger),
	)
	c.Authenticator = auth.NewAuthenticator(
		auth.WithBaseURL(defaultBaseURL),
		auth.WithExecutor(c.executor),
		auth.WithLogger(c.logger),
	)
	c.DataManager = store.NewDataManager(c.logger)

	if cfg != nil {
		if err := c.apply(cfg); err != nil {
			c.DataManager.Close()
			return nil, err
		}
		c.logger.Info("client configured",
			slog.Int("pipes", len(cfg.Pipes)),
			slog.Int("auth_modules", len(cfg.AuthModules)),
			slog.Int("stores", len(cfg.Stores)),
		)
	}

	return c, nil
}

// apply brings the registries in line with next. Auth modules and stores
// whose entry is unchanged are kept, so sessions and stored records survive
// a reload. Pipes are always rebuilt. Entries that disappeared are removed
// and their in-flight operations cancelled.
func (c *Client) apply(next *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.cfg
	if prev == nil {
		prev = &config.Config{}
	}
	baseURL := c.baseURL
	if baseURL == "" {
		baseURL = next.BaseURL
	}

	// Auth modules come first so pipes can reference them.
	prevAuth := make(map[string]config.AuthModuleConfig, len(prev.AuthModules))
	for _, ac := range prev.AuthModules {
		prevAuth[ac.Name] = ac
	}
	keepAuth := make(map[string]bool, len(next.AuthModules))
	for _, ac := range next.AuthModules {
		keepAuth[ac.Name] = true
		if old, ok := prevAuth[ac.Name]; ok && old == ac && prev.BaseURL == next.BaseURL {
			continue
		}
		acfg := authConfig(ac)
		if acfg.BaseURL == "" {
			acfg.BaseURL = baseURL
		}
		if _, err := c.Authenticator.Auth(acfg); err != nil {
			return fmt.Errorf("auth module %q: %w", ac.Name, err)
		}
	}
	for name := range prevAuth {
		if !keepAuth[name] {
			if m, ok := c.Authenticator.Remove(name); ok {
				m.Cancel()
			}
		}
	}

	keepPipe := make(map[string]bool, len(next.Pipes))
	for _, pc := range next.Pipes {
		keepPipe[pc.Name] = true
		pcfg := pipeConfig(pc)
		if pcfg.BaseURL == "" {
			pcfg.BaseURL = baseURL
		}
		if pc.AuthModule != "" {
			module, ok := c.Authenticator.AuthModuleWithName(pc.AuthModule)
			if !ok {
				return fmt.Errorf("pipe %q: unknown auth module %q", pc.Name, pc.AuthModule)
			}
			pcfg.AuthModule = module
		}
		if _, err := c.Pipeline.Pipe(pcfg); err != nil {
			return fmt.Errorf("pipe %q: %w", pc.Name, err)
		}
	}
	for _, pc := range prev.Pipes {
		if !keepPipe[pc.Name] {
			if p, ok := c.Pipeline.Remove(pc.Name); ok {
				p.Cancel()
			}
		}
	}

	prevStores := make(map[string]config.StoreConfig, len(prev.Stores))
	for _, sc := range prev.Stores {
		prevStores[sc.Name] = sc
	}
	keepStore := make(map[string]bool, len(next.Stores))
	for _, sc := range next.Stores {
		keepStore[sc.Name] = true
		if old, ok := prevStores[sc.Name]; ok && old == sc {
			continue
		}
		if _, err := c.DataManager.Store(storeConfig(sc)); err != nil {
			return fmt.Errorf("store %q: %w", sc.Name, err)
		}
	}
	for name := range prevStores {
		if !keepStore[name] {
			if s, ok := c.DataManager.Remove(name); ok {
				if err := s.Close(); err != nil {
					c.logger.Warn("failed to close removed store",
						slog.String("store", name),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}

	c.cfg = next
	return nil
}

// Config returns the configuration currently applied, or nil.
func (c *Client) Config() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Pipe returns the pipe registered under name.
func (c *Client) Pipe(name string) (pipe.Pipe, bool) {
	return c.Pipeline.PipeWithName(name)
}

// AuthModule returns the auth module registered under name.
func (c *Client) AuthModule(name string) (auth.Module, bool) {
	return c.Authenticator.AuthModuleWithName(name)
}

// Store returns the store registered under name.
func (c *Client) Store(name string) (store.Store, bool) {
	return c.DataManager.StoreWithName(name)
}

// CancelAll cancels the operations in flight on every registered pipe and
// auth module and returns how many were cancelled.
func (c *Client) CancelAll() int {
	n := 0
	for _, name := range c.Pipeline.Names() {
		if p, ok := c.Pipeline.PipeWithName(name); ok {
			n += p.Cancel()
		}
	}
	for _, name := range c.Authenticator.Names() {
		if m, ok := c.Authenticator.AuthModuleWithName(name); ok {
			n += m.Cancel()
		}
	}
	return n
}

// Close cancels outstanding operations and closes every store.
func (c *Client) Close() error {
	if n := c.CancelAll(); n > 0 {
		c.logger.Debug("cancelled operations on close", slog.Int("count", n))
	}
	return c.DataManager.Close()
}
