// Package pipe implements pipes, client-side handles to one remote resource
// endpoint, and the Pipeline registry that names them.
//
// Every operation is non-blocking: it registers an inflight.Operation,
// returns it immediately and later calls exactly one of its callbacks, or
// none if the pipe is cancelled first.
package pipe

import (
	"context"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/inflight"
	"github.com/tjfontaine/restpipe/internal/paging"
)

// Pipe is a handle to one remote resource.
type Pipe interface {
	paging.Reader

	Name() string
	Type() string

	// URL is the collection URL.
	URL() string

	// Read fetches the collection without query parameters.
	Read(ctx context.Context, onSuccess func(*paging.ResultSet), onFailure func(error)) *inflight.Operation

	// ReadOne fetches the record with the given id.
	ReadOne(ctx context.Context, id any, onSuccess func(any), onFailure func(error)) *inflight.Operation

	// ReadWithParams fetches a page of the collection. Nil params use the
	// configured parameter provider.
	ReadWithParams(ctx context.Context, params domain.Params, onSuccess func(*paging.ResultSet), onFailure func(error)) *inflight.Operation

	// Save creates the record, or updates it when it carries an id.
	Save(ctx context.Context, record domain.Record, onSuccess func(any), onFailure func(error)) *inflight.Operation

	// Remove deletes the record. It fails without a request when the
	// record has no id.
	Remove(ctx context.Context, record domain.Record, onSuccess func(any), onFailure func(error)) *inflight.Operation

	// Cancel cancels every operation in flight on this pipe and returns
	// how many there were.
	Cancel() int

	// InFlight returns the number of operations in flight.
	InFlight() int
}
