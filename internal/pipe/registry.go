package pipe

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/transport"
)

// Deps are the shared collaborators handed to a factory.
type Deps struct {
	Executor transport.Executor
	Logger   *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Executor == nil {
		d.Executor = transport.NewHTTPExecutor(transport.WithLogger(d.Logger))
	}
	return d
}

// Factory defines how to create a pipe of a specific type.
//
// Additional pipe types register themselves from init():
//
//	func init() {
//	    pipe.RegisterFactory(pipe.Factory{
//	        Type:        "graphql",
//	        Description: "GraphQL resource pipe",
//	        Create:      newGraphQLPipe,
//	    })
//	}
type Factory struct {
	// Type is the type tag used in configuration, matched case-insensitively.
	Type string

	// Description is a human-readable summary of the pipe type.
	Description string

	// Create builds a pipe from a resolved configuration.
	Create func(cfg Config, deps Deps) (Pipe, error)
}

var (
	factoryMu  sync.RWMutex
	factoryMap = make(map[string]Factory)
)

func init() {
	RegisterFactory(Factory{
		Type:        DefaultType,
		Description: "JSON resource over HTTP verbs",
		Create: func(cfg Config, deps Deps) (Pipe, error) {
			return NewRESTPipe(cfg, deps)
		},
	})
}

// RegisterFactory registers a pipe factory for a type.
// Panics if the type is empty, has no Create function or is already registered.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	key := strings.ToLower(f.Type)
	if key == "" {
		panic("pipe factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("pipe factory %q must have a Create function", f.Type))
	}
	if _, exists := factoryMap[key]; exists {
		panic(fmt.Sprintf("pipe factory %q already registered", f.Type))
	}

	factoryMap[key] = f
}

// GetFactory returns the factory for a pipe type, if registered.
func GetFactory(pipeType string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[strings.ToLower(pipeType)]
	return f, ok
}

// ListTypes returns the registered pipe types, sorted.
func ListTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(factoryMap))
	for _, f := range factoryMap {
		types = append(types, f.Type)
	}
	sort.Strings(types)
	return types
}

// CreateFromFactory resolves cfg and builds a pipe with the factory
// registered for its type.
func CreateFromFactory(cfg Config, deps Deps) (Pipe, error) {
	cfg = cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, ok := GetFactory(cfg.Type)
	if !ok {
		return nil, domain.ErrInvalid(
			fmt.Sprintf("unknown pipe type %q (registered types: %v)", cfg.Type, ListTypes()),
			domain.ErrUnknownType,
		)
	}
	return f.Create(cfg, deps.withDefaults())
}

// unregisterFactory removes a factory (for testing only).
func unregisterFactory(pipeType string) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	delete(factoryMap, strings.ToLower(pipeType))
}
