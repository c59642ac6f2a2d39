package auth

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

// Factory defines how to create an auth module of a specific type.
type Factory struct {
	// Type is the type tag used in configuration, matched case-insensitively.
	Type string

	Description string

	// Create builds a module from a resolved configuration.
	Create func(cfg Config, deps Deps) (Module, error)
}

var (
	factoryMu  sync.RWMutex
	factoryMap = make(map[string]Factory)
)

func init() {
	RegisterFactory(Factory{
		Type:        DefaultType,
		Description: "token session over JSON login/logout endpoints",
		Create: func(cfg Config, deps Deps) (Module, error) {
			return NewRESTSession(cfg, deps)
		},
	})
}

// RegisterFactory registers an auth module factory for a type.
// Panics if the type is empty, has no Create function or is already registered.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	key := strings.ToLower(f.Type)
	if key == "" {
		panic("auth factory type cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("auth factory %q must have a Create function", f.Type))
	}
	if _, exists := factoryMap[key]; exists {
		panic(fmt.Sprintf("auth factory %q already registered", f.Type))
	}

	factoryMap[key] = f
}

// GetFactory returns the factory for a module type, if registered.
func GetFactory(moduleType string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	f, ok := factoryMap[strings.ToLower(moduleType)]
	return f, ok
}

// ListTypes returns the registered module types, sorted.
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

// CreateFromFactory resolves cfg and builds a module with the factory
// registered for its type.
func CreateFromFactory(cfg Config, deps Deps) (Module, error) {
	cfg = cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f, ok := GetFactory(cfg.Type)
	if !ok {
		return nil, domain.ErrInvalid(
			fmt.Sprintf("unknown auth module type %q (registered types: %v)", cfg.Type, ListTypes()),
			domain.ErrUnknownType,
		)
	}
	return f.Create(cfg, deps.withDefaults())
}

// unregisterFactory removes a factory (for testing only).
func unregisterFactory(moduleType string) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	delete(factoryMap, strings.ToLower(moduleType))
}
