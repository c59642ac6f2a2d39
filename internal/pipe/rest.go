package pipe

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/inflight"
	"github.com/tjfontaine/restpipe/internal/paging"
	"github.com/tjfontaine/restpipe/internal/transport"
)

// RESTPipe maps pipe operations onto HTTP verbs against a JSON resource:
// reads GET, saves POST or PUT, removes DELETE.
type RESTPipe struct {
	cfg      Config
	url      string
	cursor   paging.Cursor
	executor transport.Executor
	tracker  *inflight.Tracker
	logger   *slog.Logger
}

// NewRESTPipe creates a REST pipe from cfg. Defaults are applied to a copy
// of cfg.
func NewRESTPipe(cfg Config, deps Deps) (*RESTPipe, error) {
	cfg = cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps = deps.withDefaults()
	logger := deps.Logger.With(slog.String("pipe", cfg.Name))

	return &RESTPipe{
		cfg:      cfg,
		url:      JoinURL(cfg.BaseURL, cfg.Endpoint),
		cursor:   cfg.Cursor(),
		executor: deps.Executor,
		tracker:  inflight.NewTracker(logger),
		logger:   logger,
	}, nil
}

// Name returns the pipe name.
func (p *RESTPipe) Name() string { return p.cfg.Name }

// Type returns "rest".
func (p *RESTPipe) Type() string { return p.cfg.Type }

// URL returns the collection URL.
func (p *RESTPipe) URL() string { return p.url }

// Config returns the resolved configuration.
func (p *RESTPipe) Config() Config {
	cfg := p.cfg
	cfg.ParameterProvider = domain.CloneParams(cfg.ParameterProvider)
	return cfg
}

// InFlight returns the number of operations in flight.
func (p *RESTPipe) InFlight() int { return p.tracker.Len() }

// Cancel cancels every operation in flight on this pipe. Callbacks of the
// cancelled operations never fire. A request the server already received may
// still take effect.
func (p *RESTPipe) Cancel() int {
	n := p.tracker.CancelAll()
	if n > 0 {
		p.logger.Debug("pipe cancelled", slog.Int("operations", n))
	}
	return n
}

// Read fetches the collection without query parameters.
func (p *RESTPipe) Read(ctx context.Context, onSuccess func(*paging.ResultSet), onFailure func(error)) *inflight.Operation {
	return p.readSet(ctx, "read", domain.Params{}, onSuccess, onFailure)
}

// ReadWithParams fetches a page of the collection with params as the query.
// Nil params use the configured parameter provider.
func (p *RESTPipe) ReadWithParams(ctx context.Context, params domain.Params, onSuccess func(*paging.ResultSet), onFailure func(error)) *inflight.Operation {
	if params == nil {
		params = p.cfg.ParameterProvider
	}
	return p.readSet(ctx, "readWithParams", params, onSuccess, onFailure)
}

func (p *RESTPipe) readSet(ctx context.Context, name string, params domain.Params, onSuccess func(*paging.ResultSet), onFailure func(error)) *inflight.Operation {
	return p.readPage(ctx, name, params, func(page *paging.Page) {
		if onSuccess != nil {
			onSuccess(paging.NewResultSet(p, page))
		}
	}, onFailure)
}

// ReadPage fetches one page with params as the query. It backs
// ResultSet.Next and ResultSet.Previous for parameter continuations.
func (p *RESTPipe) ReadPage(ctx context.Context, params domain.Params, onSuccess func(*paging.Page), onFailure func(error)) *inflight.Operation {
	return p.readPage(ctx, "readPage", params, onSuccess, onFailure)
}

func (p *RESTPipe) readPage(ctx context.Context, name string, params domain.Params, onSuccess func(*paging.Page), onFailure func(error)) *inflight.Operation {
	params = domain.CloneParams(params)
	target, err := withQuery(p.url, params)
	if err != nil {
		return inflight.Fail(name, domain.TagOp(err, name), onFailure)
	}
	return execute(ctx, p, name, p.newRequest(http.MethodGet, target, nil), func(resp *transport.Response) (*paging.Page, error) {
		return p.page(resp, params), nil
	}, onSuccess, onFailure)
}

// ReadPageURL fetches rawURL verbatim. It backs web-linking continuations.
// The auth token is only sent when rawURL has the same scheme and host as
// the pipe's URL; a server-supplied link to another origin is fetched
// anonymously.
func (p *RESTPipe) ReadPageURL(ctx context.Context, rawURL string, onSuccess func(*paging.Page), onFailure func(error)) *inflight.Operation {
	const name = "readPageURL"
	target, err := url.Parse(rawURL)
	if err != nil {
		return inflight.Fail(name, domain.ErrInvalid("invalid page URL", err).WithOp(name), onFailure)
	}

	req := &transport.Request{Method: http.MethodGet, URL: rawURL, Header: make(http.Header)}
	if p.sameOrigin(target) {
		p.authorize(req)
	} else if p.cfg.AuthModule != nil {
		p.logger.Debug("withholding auth token from cross-origin page URL", slog.String("url", rawURL))
	}
	return execute(ctx, p, name, req, func(resp *transport.Response) (*paging.Page, error) {
		return p.page(resp, nil), nil
	}, onSuccess, onFailure)
}

func (p *RESTPipe) page(resp *transport.Response, params domain.Params) *paging.Page {
	links := p.cursor.Extract(resp)
	if p.cursor.Location == paging.Body {
		if _, ok := resp.Data.(map[string]any); !ok {
			p.logger.Warn("paging metadata unavailable: body is not an object",
				slog.String("location", string(p.cursor.Location)),
			)
		}
	}
	return &paging.Page{Data: resp.Data, Params: params, Links: links}
}

// ReadOne fetches the record with the given id.
func (p *RESTPipe) ReadOne(ctx context.Context, id any, onSuccess func(any), onFailure func(error)) *inflight.Operation {
	const name = "readOne"
	target, ok := p.recordURL(domain.FormatID(id))
	if !ok {
		return inflight.Fail(name, domain.ErrInvalid("record id is required", domain.ErrMissingRecordID).WithOp(name), onFailure)
	}
	return execute(ctx, p, name, p.newRequest(http.MethodGet, target, nil), data, onSuccess, onFailure)
}

// Save issues PUT to the record URL when record carries a non-empty id and
// POST to the collection otherwise.
func (p *RESTPipe) Save(ctx context.Context, record domain.Record, onSuccess func(any), onFailure func(error)) *inflight.Operation {
	const name = "save"
	if record == nil {
		return inflight.Fail(name, domain.ErrInvalid("record is required", nil).WithOp(name), onFailure)
	}

	req := p.newRequest(http.MethodPost, p.url, record)
	if id, ok := domain.RecordID(record, p.cfg.RecordID); ok {
		target, _ := p.recordURL(id)
		req = p.newRequest(http.MethodPut, target, record)
	}
	return execute(ctx, p, name, req, data, onSuccess, onFailure)
}

// Remove issues DELETE to the record URL. A record without an id fails with
// a validation error before any request is sent.
func (p *RESTPipe) Remove(ctx context.Context, record domain.Record, onSuccess func(any), onFailure func(error)) *inflight.Operation {
	const name = "remove"
	id, _ := domain.RecordID(record, p.cfg.RecordID)
	target, ok := p.recordURL(id)
	if !ok {
		return inflight.Fail(name, domain.ErrInvalid("record id is required", domain.ErrMissingRecordID).WithOp(name), onFailure)
	}
	return execute(ctx, p, name, p.newRequest(http.MethodDelete, target, nil), data, onSuccess, onFailure)
}

func (p *RESTPipe) recordURL(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	return p.url + "/" + url.PathEscape(id), true
}

// newRequest builds a request, reading the auth token once.
func (p *RESTPipe) newRequest(method, target string, body any) *transport.Request {
	req := &transport.Request{
		Method: method,
		URL:    target,
		Header: make(http.Header),
		Body:   body,
	}
	p.authorize(req)
	return req
}

// authorize attaches the auth module's current token, if any.
func (p *RESTPipe) authorize(req *transport.Request) {
	if src := p.cfg.AuthModule; src != nil {
		if token, ok := src.Token(); ok {
			req.Header.Set(src.TokenHeaderName(), token)
		}
	}
}

func (p *RESTPipe) sameOrigin(target *url.URL) bool {
	base, err := url.Parse(p.url)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Scheme, target.Scheme) && strings.EqualFold(base.Host, target.Host)
}

func data(resp *transport.Response) (any, error) {
	return resp.Data, nil
}

// execute runs req on p's tracker and converts the response.
func execute[T any](ctx context.Context, p *RESTPipe, name string, req *transport.Request, convert func(*transport.Response) (T, error), onSuccess func(T), onFailure func(error)) *inflight.Operation {
	spec := inflight.Spec{Name: name, Timeout: p.cfg.Timeout}
	call := transport.Call{
		Op:         name,
		Span:       "restpipe." + name,
		Attributes: []attribute.KeyValue{attribute.String("restpipe.pipe", p.cfg.Name)},
		Logger:     p.logger,
	}

	return inflight.Go(ctx, p.tracker, spec, func(ctx context.Context) (T, error) {
		return transport.Dispatch(ctx, p.executor, call, req, convert)
	}, onSuccess, onFailure)
}
