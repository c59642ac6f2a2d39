// Package auth manages authenticated sessions against a REST backend and
// exposes the session token to pipes.
//
// A session moves anonymous → authenticating → authenticated → loggingOut →
// anonymous. Login is only accepted while anonymous. The token is cleared
// when a logout completes, whether the server accepted it or not, so the
// local state never claims a session the server may already have dropped.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/inflight"
	"github.com/tjfontaine/restpipe/internal/pipe"
	"github.com/tjfontaine/restpipe/internal/transport"
)

// State is the lifecycle position of a session.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateLoggingOut
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateLoggingOut:
		return "loggingOut"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Module is an auth module that pipes can attach to.
type Module interface {
	domain.AuthModule

	Enroll(ctx context.Context, userData domain.Record, onSuccess func(any), onFailure func(error)) *inflight.Operation
	Login(ctx context.Context, username, password string, onSuccess func(any), onFailure func(error)) *inflight.Operation
	Logout(ctx context.Context, onSuccess func(any), onFailure func(error)) *inflight.Operation

	// Cancel cancels every operation in flight and returns how many were
	// cancelled. No callback fires for them.
	Cancel() int

	// Invalidate drops the token locally without contacting the server.
	Invalidate()

	State() State
}

// loginBodyTokenFields are the body fields searched, after the token header
// name itself, when the login response carries no token header.
var loginBodyTokenFields = []string{"token", "access_token"}

// RESTSession authenticates with JSON POSTs to the login, logout and enroll
// endpoints.
type RESTSession struct {
	cfg      Config
	executor transport.Executor
	tracker  *inflight.Tracker
	logger   *slog.Logger

	mu    sync.RWMutex
	state State
	token string

	// attempt identifies the current transition so a stale cancellation
	// cannot roll back a later one.
	attempt uint64
}

var _ Module = (*RESTSession)(nil)

// NewRESTSession creates an anonymous session from cfg.
func NewRESTSession(cfg Config, deps Deps) (*RESTSession, error) {
	cfg = cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	deps = deps.withDefaults()
	logger := deps.Logger.With(slog.String("auth_module", cfg.Name))

	return &RESTSession{
		cfg:      cfg,
		executor: deps.Executor,
		tracker:  inflight.NewTracker(logger),
		logger:   logger,
	}, nil
}

func (s *RESTSession) Name() string { return s.cfg.Name }

func (s *RESTSession) Type() string { return s.cfg.Type }

// Config returns the resolved configuration.
func (s *RESTSession) Config() Config { return s.cfg }

// TokenHeaderName returns the header that carries the token.
func (s *RESTSession) TokenHeaderName() string { return s.cfg.TokenHeaderName }

// Token returns the current token. It reports false unless the session is
// authenticated or logging out.
func (s *RESTSession) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// State returns the current lifecycle state.
func (s *RESTSession) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsAuthenticated reports whether a token is held.
func (s *RESTSession) IsAuthenticated() bool {
	_, ok := s.Token()
	return ok
}

// TokenExpiry returns the exp claim when the token is a JWT carrying one.
// The token is not verified; the result is informational.
func (s *RESTSession) TokenExpiry() (time.Time, bool) {
	token, ok := s.Token()
	if !ok {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Enroll registers a new user. It does not change the session state.
func (s *RESTSession) Enroll(ctx context.Context, userData domain.Record, onSuccess func(any), onFailure func(error)) *inflight.Operation {
	const name = "enroll"
	if userData == nil {
		return inflight.Fail(name, domain.ErrInvalid("user data is required", nil).WithOp(name), onFailure)
	}
	req := s.newRequest(s.cfg.EnrollEndpoint, "", userData)
	return execute(ctx, s, name, req, payload, onSuccess, onFailure)
}

// Login posts the credentials and stores the token from the response.
func (s *RESTSession) Login(ctx context.Context, username, password string, onSuccess func(any), onFailure func(error)) *inflight.Operation {
	const name = "login"

	s.mu.Lock()
	if s.state != StateAnonymous {
		state := s.state
		s.mu.Unlock()
		err := domain.ErrInvalid("cannot log in while "+state.String(), domain.ErrInvalidAuthState).WithOp(name)
		return inflight.Fail(name, err, onFailure)
	}
	s.state = StateAuthenticating
	s.attempt++
	attempt := s.attempt
	s.mu.Unlock()

	req := s.newRequest(s.cfg.LoginEndpoint, "", map[string]any{
		"username": username,
		"password": password,
	})

	type loginResult struct {
		token string
		data  any
	}
	op := execute(ctx, s, name, req, func(resp *transport.Response) (loginResult, error) {
		token, ok := extractToken(resp, s.cfg.TokenHeaderName)
		if !ok {
			return loginResult{}, domain.ErrParseFailure("login response carried no token", domain.ErrNoToken)
		}
		return loginResult{token: token, data: resp.Data}, nil
	}, func(r loginResult) {
		s.finish(attempt, StateAuthenticated, r.token)
		s.logger.Info("logged in", slog.String("user", username))
		if onSuccess != nil {
			onSuccess(r.data)
		}
	}, func(err error) {
		s.finish(attempt, StateAnonymous, "")
		if onFailure != nil {
			onFailure(err)
		}
	})

	s.watch(op, attempt)
	return op
}

// Logout ends the session. The token is cleared once the request completes
// regardless of its outcome. Logging out while anonymous succeeds without a
// request.
func (s *RESTSession) Logout(ctx context.Context, onSuccess func(any), onFailure func(error)) *inflight.Operation {
	const name = "logout"

	s.mu.Lock()
	switch s.state {
	case StateAnonymous:
		s.mu.Unlock()
		return inflight.Succeed[any](name, nil, onSuccess)
	case StateAuthenticated:
	default:
		state := s.state
		s.mu.Unlock()
		err := domain.ErrInvalid("cannot log out while "+state.String(), domain.ErrInvalidAuthState).WithOp(name)
		return inflight.Fail(name, err, onFailure)
	}
	s.state = StateLoggingOut
	s.attempt++
	attempt := s.attempt
	token := s.token
	s.mu.Unlock()

	req := s.newRequest(s.cfg.LogoutEndpoint, token, nil)
	op := execute(ctx, s, name, req, payload, func(v any) {
		s.finish(attempt, StateAnonymous, "")
		s.logger.Info("logged out")
		if onSuccess != nil {
			onSuccess(v)
		}
	}, func(err error) {
		s.finish(attempt, StateAnonymous, "")
		s.logger.Warn("logout failed, token discarded", slog.String("error", err.Error()))
		if onFailure != nil {
			onFailure(err)
		}
	})

	s.watch(op, attempt)
	return op
}

// Cancel cancels every operation in flight. An interrupted login returns the
// session to anonymous; an interrupted logout keeps the token.
func (s *RESTSession) Cancel() int {
	n := s.tracker.CancelAll()

	s.mu.Lock()
	s.rollback()
	s.mu.Unlock()

	if n > 0 {
		s.logger.Debug("auth operations cancelled", slog.Int("count", n))
	}
	return n
}

// Invalidate clears the token and returns the session to anonymous from any
// state. A login or logout in flight is not cancelled, but it no longer
// changes the session: its callbacks still run and a later Cancel leaves the
// session anonymous.
func (s *RESTSession) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAnonymous
	s.token = ""
	s.attempt++
}

// finish completes the transition started by attempt.
func (s *RESTSession) finish(attempt uint64, to State, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt != attempt {
		return
	}
	s.state = to
	s.token = token
}

// rollback undoes an interrupted transition. Callers hold s.mu.
func (s *RESTSession) rollback() {
	switch s.state {
	case StateAuthenticating:
		s.state = StateAnonymous
		s.token = ""
	case StateLoggingOut:
		if s.token == "" {
			s.state = StateAnonymous
			return
		}
		s.state = StateAuthenticated
	}
}

// watch rolls back the transition if op ends by cancellation, including when
// its parent context is cancelled rather than Cancel being called.
func (s *RESTSession) watch(op *inflight.Operation, attempt uint64) {
	go func() {
		<-op.Done()
		if !op.Cancelled() {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.attempt == attempt {
			s.rollback()
		}
	}()
}

func (s *RESTSession) newRequest(endpoint, token string, body any) *transport.Request {
	req := &transport.Request{
		Method: http.MethodPost,
		URL:    pipe.JoinURL(s.cfg.BaseURL, endpoint),
		Header: make(http.Header),
		Body:   body,
	}
	if token != "" {
		req.Header.Set(s.cfg.TokenHeaderName, token)
	}
	return req
}

func payload(resp *transport.Response) (any, error) {
	return resp.Data, nil
}

// execute runs req on s's tracker and converts the response.
func execute[T any](ctx context.Context, s *RESTSession, name string, req *transport.Request, convert func(*transport.Response) (T, error), onSuccess func(T), onFailure func(error)) *inflight.Operation {
	spec := inflight.Spec{Name: name, Timeout: s.cfg.Timeout}
	call := transport.Call{
		Op:         name,
		Span:       "restpipe.auth." + name,
		Attributes: []attribute.KeyValue{attribute.String("restpipe.auth_module", s.cfg.Name)},
	}

	return inflight.Go(ctx, s.tracker, spec, func(ctx context.Context) (T, error) {
		return transport.Dispatch(ctx, s.executor, call, req, convert)
	}, onSuccess, onFailure)
}

// extractToken reads the session token from the response header, falling
// back to string fields of an object body.
func extractToken(resp *transport.Response, headerName string) (string, bool) {
	if token := strings.TrimSpace(resp.Header.Get(headerName)); token != "" {
		return token, true
	}

	body, ok := resp.Data.(map[string]any)
	if !ok {
		return "", false
	}
	for _, field := range append([]string{headerName}, loginBodyTokenFields...) {
		if token, ok := body[field].(string); ok && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), true
		}
	}
	return "", false
}
