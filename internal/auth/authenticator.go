package auth

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tjfontaine/restpipe/internal/transport"
)

// Authenticator is a name-keyed registry of auth modules. It is safe for
// concurrent use.
type Authenticator struct {
	mu      sync.RWMutex
	modules map[string]Module

	baseURL string
	deps    Deps
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithBaseURL sets the base URL used by configs that have none.
func WithBaseURL(baseURL string) Option {
	return func(a *Authenticator) {
		a.baseURL = baseURL
	}
}

// WithExecutor sets the request executor shared by the modules.
func WithExecutor(executor transport.Executor) Option {
	return func(a *Authenticator) {
		a.deps.Executor = executor
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		a.deps.Logger = logger
	}
}

// NewAuthenticator creates an empty authenticator.
func NewAuthenticator(opts ...Option) *Authenticator {
	a := &Authenticator{modules: make(map[string]Module)}
	for _, opt := range opts {
		opt(a)
	}
	a.deps = a.deps.withDefaults()
	return a
}

// Auth builds a module from cfg and registers it under cfg.Name, replacing
// any module already registered under that name.
func (a *Authenticator) Auth(cfg Config) (Module, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = a.baseURL
	}

	m, err := CreateFromFactory(cfg, a.deps)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	_, replaced := a.modules[m.Name()]
	a.modules[m.Name()] = m
	a.mu.Unlock()

	a.deps.Logger.Debug("auth module registered",
		slog.String("auth_module", m.Name()),
		slog.String("type", m.Type()),
		slog.Bool("replaced", replaced),
	)
	return m, nil
}

// Remove detaches and returns the module registered under name. Pipes that
// already reference it keep doing so.
func (a *Authenticator) Remove(name string) (Module, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.modules[name]
	if ok {
		delete(a.modules, name)
	}
	return m, ok
}

// AuthModuleWithName returns the module registered under name.
func (a *Authenticator) AuthModuleWithName(name string) (Module, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	m, ok := a.modules[name]
	return m, ok
}

// Names returns the registered module names, sorted.
func (a *Authenticator) Names() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.modules))
	for name := range a.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
