package store

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tjfontaine/restpipe/internal/domain"
)

// Store types and defaults.
const (
	TypeMemory = "memory"
	TypeSQLite = "sqlite"

	DefaultRecordID = "id"
)

// Config describes one store.
type Config struct {
	// Name identifies the store within a DataManager. Required.
	Name string

	// Type is "memory" (default) or "sqlite".
	Type string

	// RecordID is the field holding a record's id. Defaults to "id".
	RecordID string

	// Path is the SQLite database file. Defaults to ":memory:".
	Path string
}

// Factory creates a store of one type.
type Factory func(cfg Config) (Store, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{
		TypeMemory: func(cfg Config) (Store, error) {
			return NewMemory(cfg.RecordID), nil
		},
		TypeSQLite: func(cfg Config) (Store, error) {
			path := cfg.Path
			if path == "" {
				path = ":memory:"
			}
			return NewSQLite(path, cfg.Name, cfg.RecordID)
		},
	}
)

// RegisterFactory adds a store type. Panics if the type is already
// registered.
func RegisterFactory(storeType string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	key := strings.ToLower(storeType)
	if _, exists := factories[key]; exists {
		panic(fmt.Sprintf("store factory %q already registered", storeType))
	}
	factories[key] = f
}

// DataManager is a name-keyed registry of stores. It is safe for concurrent
// use.
type DataManager struct {
	mu     sync.RWMutex
	stores map[string]Store
	logger *slog.Logger
}

// NewDataManager creates an empty registry. A nil logger means
// slog.Default().
func NewDataManager(logger *slog.Logger) *DataManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataManager{
		stores: make(map[string]Store),
		logger: logger,
	}
}

// Store creates a store from cfg and registers it under cfg.Name, replacing
// and closing any store already registered under that name.
func (m *DataManager) Store(cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, domain.ErrInvalid("store name is required", nil)
	}
	if cfg.Type == "" {
		cfg.Type = TypeMemory
	}

	factoryMu.RLock()
	f, ok := factories[strings.ToLower(cfg.Type)]
	factoryMu.RUnlock()
	if !ok {
		return nil, domain.ErrInvalid(fmt.Sprintf("unknown store type %q", cfg.Type), domain.ErrUnknownType)
	}

	s, err := f(cfg)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	old := m.stores[cfg.Name]
	m.stores[cfg.Name] = s
	m.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			m.logger.Warn("failed to close replaced store",
				slog.String("store", cfg.Name),
				slog.String("error", err.Error()),
			)
		}
	}

	m.logger.Debug("store registered", slog.String("store", cfg.Name), slog.String("type", s.Type()))
	return s, nil
}

// Remove detaches and returns the store registered under name. The caller
// owns closing it.
func (m *DataManager) Remove(name string) (Store, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stores[name]
	if ok {
		delete(m.stores, name)
	}
	return s, ok
}

// StoreWithName returns the store registered under name.
func (m *DataManager) StoreWithName(name string) (Store, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.stores[name]
	return s, ok
}

// Names returns the registered store names, sorted.
func (m *DataManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes and removes every store.
func (m *DataManager) Close() error {
	m.mu.Lock()
	stores := m.stores
	m.stores = make(map[string]Store)
	m.mu.Unlock()

	var errs []error
	for _, s := range stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
