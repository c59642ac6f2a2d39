package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/store/query"
)

// Memory is an in-memory Store.
type Memory struct {
	idField string

	mu      sync.RWMutex
	order   []string
	records map[string]domain.Record
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store keyed by idField.
func NewMemory(idField string) *Memory {
	if idField == "" {
		idField = DefaultRecordID
	}
	return &Memory{
		idField: idField,
		records: make(map[string]domain.Record),
	}
}

func (s *Memory) Type() string { return TypeMemory }

func (s *Memory) ReadAll(ctx context.Context) ([]domain.Record, error) {
	return s.Filter(ctx, query.And())
}

func (s *Memory) Read(ctx context.Context, id string) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(r), nil
}

func (s *Memory) Filter(ctx context.Context, expr query.Expr) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []domain.Record{}
	for _, id := range s.order {
		r := s.records[id]
		if expr.Eval(r) {
			result = append(result, clone(r))
		}
	}
	return result, nil
}

func (s *Memory) Save(ctx context.Context, data any) ([]domain.Record, error) {
	records, err := normalize(data, s.idField)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := make([]domain.Record, 0, len(records))
	for _, r := range records {
		id, _ := domain.RecordID(r, s.idField)
		if _, exists := s.records[id]; !exists {
			s.order = append(s.order, id)
		}
		s.records[id] = r
		saved = append(saved, clone(r))
	}
	return saved, nil
}

func (s *Memory) Remove(ctx context.Context, record domain.Record) error {
	id, ok := domain.RecordID(record, s.idField)
	if !ok {
		return domain.ErrInvalid("record id is required", domain.ErrMissingRecordID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.records, id)
	s.order = slices.DeleteFunc(s.order, func(o string) bool { return o == id })
	return nil
}

func (s *Memory) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order = nil
	s.records = make(map[string]domain.Record)
	return nil
}

func (s *Memory) Close() error { return nil }
