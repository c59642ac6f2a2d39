// Package store holds records read through pipes on the client side. A
// store accepts the plain decoded data a pipe delivers and keeps its own
// deep copy of it.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/store/query"
)

// ErrNotFound is returned when a record id is not in the store.
var ErrNotFound = errors.New("record not found")

// Store is a local collection of records keyed by their id field.
type Store interface {
	// Type returns the implementation type, e.g. "memory".
	Type() string

	// ReadAll returns every record in insertion order.
	ReadAll(ctx context.Context) ([]domain.Record, error)

	// Read returns the record with the given id or ErrNotFound.
	Read(ctx context.Context, id string) (domain.Record, error)

	// Filter returns the records matching expr in insertion order.
	Filter(ctx context.Context, expr query.Expr) ([]domain.Record, error)

	// Save stores a record or a sequence of records, replacing those with
	// the same id. Records without an id get a generated one. The stored
	// copies are returned.
	Save(ctx context.Context, data any) ([]domain.Record, error)

	// Remove deletes the record with the same id as record.
	Remove(ctx context.Context, record domain.Record) error

	// Reset deletes every record.
	Reset(ctx context.Context) error

	Close() error
}

// normalize deep copies data into records through a JSON round trip, so
// every store sees the same shapes a pipe would decode. It accepts a single
// object or an array of objects.
func normalize(data any, idField string) ([]domain.Record, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, domain.ErrInvalid("data is not JSON serializable", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, domain.ErrInvalid("data is not JSON serializable", err)
	}

	var records []domain.Record
	switch v := decoded.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		records = []domain.Record{v}
	case []any:
		records = make([]domain.Record, 0, len(v))
		for i, el := range v {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, domain.ErrInvalid(fmt.Sprintf("element %d is not an object", i), nil)
			}
			records = append(records, m)
		}
	default:
		return nil, domain.ErrInvalid(fmt.Sprintf("cannot store %T", data), nil)
	}

	for _, r := range records {
		if _, ok := domain.RecordID(r, idField); !ok {
			r[idField] = uuid.New().String()
		}
	}
	return records, nil
}

// clone deep copies a record already held by a store.
func clone(r domain.Record) domain.Record {
	out := make(domain.Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return clone(t)
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = cloneValue(el)
		}
		return out
	default:
		return v
	}
}
