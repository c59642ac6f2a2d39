package pipe

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/tjfontaine/restpipe/internal/transport"
)

// Pipeline is a name-keyed registry of pipes. It is safe for concurrent use.
type Pipeline struct {
	mu    sync.RWMutex
	pipes map[string]Pipe

	baseURL string
	deps    Deps
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBaseURL sets the base URL used by configs that have none.
func WithBaseURL(baseURL string) Option {
	return func(pl *Pipeline) {
		pl.baseURL = baseURL
	}
}

// WithExecutor sets the request executor shared by the pipeline's pipes.
func WithExecutor(executor transport.Executor) Option {
	return func(pl *Pipeline) {
		pl.deps.Executor = executor
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(pl *Pipeline) {
		pl.deps.Logger = logger
	}
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	pl := &Pipeline{pipes: make(map[string]Pipe)}
	for _, opt := range opts {
		opt(pl)
	}
	pl.deps = pl.deps.withDefaults()
	return pl
}

// BaseURL returns the pipeline's default base URL.
func (pl *Pipeline) BaseURL() string {
	return pl.baseURL
}

// Pipe builds a pipe from cfg and registers it under cfg.Name, replacing any
// pipe already registered under that name. The replaced pipe is not
// cancelled.
func (pl *Pipeline) Pipe(cfg Config) (Pipe, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = pl.baseURL
	}

	p, err := CreateFromFactory(cfg, pl.deps)
	if err != nil {
		return nil, err
	}

	pl.mu.Lock()
	_, replaced := pl.pipes[p.Name()]
	pl.pipes[p.Name()] = p
	pl.mu.Unlock()

	pl.deps.Logger.Debug("pipe registered",
		slog.String("pipe", p.Name()),
		slog.String("type", p.Type()),
		slog.String("url", p.URL()),
		slog.Bool("replaced", replaced),
	)
	return p, nil
}

// Remove detaches and returns the pipe registered under name. Operations in
// flight on it keep running; call its Cancel to stop them.
func (pl *Pipeline) Remove(name string) (Pipe, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	p, ok := pl.pipes[name]
	if ok {
		delete(pl.pipes, name)
	}
	return p, ok
}

// PipeWithName returns the pipe registered under name.
func (pl *Pipeline) PipeWithName(name string) (Pipe, bool) {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	p, ok := pl.pipes[name]
	return p, ok
}

// Names returns the registered pipe names, sorted.
func (pl *Pipeline) Names() []string {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	names := make([]string, 0, len(pl.pipes))
	for name := range pl.pipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
