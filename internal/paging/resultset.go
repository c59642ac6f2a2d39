package paging

import (
	"context"
	"slices"
	"sync"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/inflight"
)

// Page is one decoded page together with its continuations.
type Page struct {
	// Data is the decoded response body.
	Data any

	// Params are the parameters the page was requested with.
	Params domain.Params

	Links Links
}

// Records returns the page body as an ordered sequence: an array body
// yields its elements, null yields nothing, anything else is a single
// element.
func (p *Page) Records() []any {
	switch v := p.Data.(type) {
	case nil:
		return []any{}
	case []any:
		return v
	default:
		return []any{v}
	}
}

// Reader issues paged reads. Pipes implement it.
type Reader interface {
	ReadPage(ctx context.Context, params domain.Params, onSuccess func(*Page), onFailure func(error)) *inflight.Operation
	ReadPageURL(ctx context.Context, rawURL string, onSuccess func(*Page), onFailure func(error)) *inflight.Operation
}

// ResultSet is a page of records bound to the reader that produced it.
// Next and Previous replace its contents in place: every holder of the same
// *ResultSet sees the new page once the success callback fires.
//
// Only one paging call may be in flight per ResultSet. An overlapping Next
// or Previous fails immediately with a validation error wrapping
// domain.ErrPageInFlight and leaves the contents untouched.
type ResultSet struct {
	reader Reader

	mu      sync.RWMutex
	records []any
	data    any
	params  domain.Params
	links   Links

	// paging is the generation of the in-flight paging call, 0 when idle.
	paging     uint64
	generation uint64
}

// NewResultSet wraps a first page.
func NewResultSet(reader Reader, page *Page) *ResultSet {
	rs := &ResultSet{reader: reader}
	rs.replace(page, true)
	return rs
}

// Records returns a copy of the current records.
func (rs *ResultSet) Records() []any {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return slices.Clone(rs.records)
}

// Len returns the number of records on the current page.
func (rs *ResultSet) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.records)
}

// Raw returns the decoded body of the current page.
func (rs *ResultSet) Raw() any {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.data
}

// Params returns a copy of the parameters the current page was read with.
func (rs *ResultSet) Params() domain.Params {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return domain.CloneParams(rs.params)
}

// Links returns the continuations of the current page.
func (rs *ResultSet) Links() Links {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.links
}

// HasNext reports whether the server advertised a next page.
func (rs *ResultSet) HasNext() bool {
	return !rs.Links().Next.IsZero()
}

// HasPrevious reports whether the server advertised a previous page.
func (rs *ResultSet) HasPrevious() bool {
	return !rs.Links().Previous.IsZero()
}

// Next moves to the next page.
func (rs *ResultSet) Next(ctx context.Context, onSuccess func(*ResultSet), onFailure func(error)) *inflight.Operation {
	return rs.move(ctx, "next", func(l Links) Continuation { return l.Next }, onSuccess, onFailure)
}

// Previous moves to the previous page.
func (rs *ResultSet) Previous(ctx context.Context, onSuccess func(*ResultSet), onFailure func(error)) *inflight.Operation {
	return rs.move(ctx, "previous", func(l Links) Continuation { return l.Previous }, onSuccess, onFailure)
}

func (rs *ResultSet) move(ctx context.Context, name string, pick func(Links) Continuation, onSuccess func(*ResultSet), onFailure func(error)) *inflight.Operation {
	rs.mu.Lock()
	if rs.paging != 0 {
		rs.mu.Unlock()
		return inflight.Fail(name, domain.ErrInvalid("result set is busy", domain.ErrPageInFlight).WithOp(name), onFailure)
	}

	cont := pick(rs.links)
	if cont.IsZero() {
		rs.mu.Unlock()
		return inflight.Succeed(name, rs, onSuccess)
	}

	rs.generation++
	gen := rs.generation
	rs.paging = gen
	params := rs.params
	rs.mu.Unlock()

	success := func(page *Page) {
		rs.mu.Lock()
		rs.replace(page, cont.URL == "")
		rs.release(gen)
		rs.mu.Unlock()
		if onSuccess != nil {
			onSuccess(rs)
		}
	}
	failure := func(err error) {
		rs.mu.Lock()
		rs.release(gen)
		rs.mu.Unlock()
		if onFailure != nil {
			onFailure(err)
		}
	}

	var op *inflight.Operation
	if cont.URL != "" {
		op = rs.reader.ReadPageURL(ctx, cont.URL, success, failure)
	} else {
		op = rs.reader.ReadPage(ctx, domain.MergeParams(params, cont.Params), success, failure)
	}

	// A cancelled call runs neither callback; free the guard when it ends.
	go func() {
		<-op.Done()
		if op.Cancelled() {
			rs.mu.Lock()
			rs.release(gen)
			rs.mu.Unlock()
		}
	}()

	return op
}

// replace swaps in a new page. Callers hold rs.mu, except during
// construction. Params are kept when the page was fetched by URL.
func (rs *ResultSet) replace(page *Page, updateParams bool) {
	rs.records = page.Records()
	rs.data = page.Data
	rs.links = page.Links
	if updateParams {
		rs.params = domain.CloneParams(page.Params)
	}
}

func (rs *ResultSet) release(gen uint64) {
	if rs.paging == gen {
		rs.paging = 0
	}
}
