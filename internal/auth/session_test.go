package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/inflight"
	"github.com/tjfontaine/restpipe/internal/paging"
	"github.com/tjfontaine/restpipe/internal/pipe"
	"github.com/tjfontaine/restpipe/internal/server"
	"github.com/tjfontaine/restpipe/internal/testutil"
	"github.com/tjfontaine/restpipe/internal/transport"
)

func newSession(t *testing.T, cfg Config, executor transport.Executor) *RESTSession {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "auth"
	}
	if executor == nil {
		executor = transport.NewHTTPExecutor(transport.WithLogger(testutil.DiscardLogger()))
	}
	s, err := NewRESTSession(cfg, Deps{Executor: executor, Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Fatalf("NewRESTSession() error = %v", err)
	}
	return s
}

func await(t *testing.T, op *inflight.Operation) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := op.Wait(ctx); err != nil {
		t.Fatalf("operation %s did not resolve: %v", op.Name(), err)
	}
}

// result collects the callbacks of one operation.
type result struct {
	mu        sync.Mutex
	successes []any
	failures  []error
}

func (r *result) success(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, v)
}

func (r *result) failure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *result) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes) + len(r.failures)
}

func (r *result) value(t *testing.T) any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failures) > 0 {
		t.Fatalf("unexpected failure: %v", r.failures[0])
	}
	if len(r.successes) != 1 {
		t.Fatalf("success callback fired %d times, want 1", len(r.successes))
	}
	return r.successes[0]
}

func (r *result) err(t *testing.T) error {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.successes) > 0 {
		t.Fatalf("unexpected success: %v", r.successes[0])
	}
	if len(r.failures) != 1 {
		t.Fatalf("failure callback fired %d times, want 1", len(r.failures))
	}
	return r.failures[0]
}

func login(t *testing.T, s *RESTSession) {
	t.Helper()
	var r result
	await(t, s.Login(context.Background(), "john", "123", r.success, r.failure))
	r.value(t)
}

// blockingExecutor answers logins with a token and blocks every other
// request until its context ends.
func blockingExecutor() transport.Executor {
	return transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		if req.URL == "http://x/auth/login" {
			return &transport.Response{
				StatusCode: http.StatusOK,
				Header:     http.Header{"Auth-Token": {"t-1"}},
			}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
}

func TestSession_LoginAttachesTokenToPipes(t *testing.T) {
	backend := testutil.NewBackend(t, server.Config{Protected: []string{"cars"}})
	session := newSession(t, Config{BaseURL: backend.URL}, nil)

	cars, err := pipe.NewRESTPipe(pipe.Config{
		Name:       "cars",
		BaseURL:    backend.URL,
		AuthModule: session,
	}, pipe.Deps{Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Fatal(err)
	}

	read := func() error {
		var failed error
		op := cars.Read(context.Background(), func(*paging.ResultSet) {}, func(err error) { failed = err })
		await(t, op)
		return failed
	}

	if err := read(); domain.StatusOf(err) != http.StatusUnauthorized {
		t.Fatalf("anonymous read error = %v, want 401", err)
	}

	login(t, session)
	if session.State() != StateAuthenticated {
		t.Fatalf("State() = %v, want authenticated", session.State())
	}
	token, ok := session.Token()
	if !ok || backend.Sessions() != 1 {
		t.Fatalf("Token() = %q, %v; server sessions = %d", token, ok, backend.Sessions())
	}
	if err := read(); err != nil {
		t.Fatalf("authenticated read error = %v", err)
	}

	var out result
	await(t, session.Logout(context.Background(), out.success, out.failure))
	out.value(t)
	if session.State() != StateAnonymous || session.IsAuthenticated() {
		t.Errorf("after logout: state %v, authenticated %v", session.State(), session.IsAuthenticated())
	}
	if backend.Sessions() != 0 {
		t.Errorf("server still holds %d sessions", backend.Sessions())
	}
	if err := read(); domain.StatusOf(err) != http.StatusUnauthorized {
		t.Errorf("read after logout error = %v, want 401", err)
	}

	var got []string
	for _, req := range backend.Requests() {
		got = append(got, req.Method+" "+req.Path+" token="+req.Header.Get("Auth-Token"))
	}
	want := []string{
		"GET /cars token=",
		"POST /auth/login token=",
		"GET /cars token=" + token,
		"POST /auth/logout token=" + token,
		"GET /cars token=",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("requests (-want +got):\n%s", diff)
	}
}

func TestSession_LoginTokenSources(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		body   any
		want   string
	}{
		{"header", http.Header{"Auth-Token": {"h"}}, map[string]any{"token": "b"}, "h"},
		{"body header name", nil, map[string]any{"Auth-Token": "a", "token": "b"}, "a"},
		{"body token", nil, map[string]any{"token": "b", "access_token": "c"}, "b"},
		{"body access_token", nil, map[string]any{"access_token": "c"}, "c"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				return &transport.Response{StatusCode: http.StatusOK, Header: tt.header, Data: tt.body}, nil
			})
			s := newSession(t, Config{BaseURL: "http://x"}, executor)
			login(t, s)
			if token, _ := s.Token(); token != tt.want {
				t.Errorf("Token() = %q, want %q", token, tt.want)
			}
		})
	}
}

func TestSession_LoginTokenInBody(t *testing.T) {
	backend := testutil.NewBackend(t, server.Config{TokenInBody: true})
	s := newSession(t, Config{BaseURL: backend.URL}, nil)
	login(t, s)
	if !s.IsAuthenticated() {
		t.Error("no token taken from the access_token field")
	}
}

func TestSession_LoginWithoutToken(t *testing.T) {
	executor := transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		return &transport.Response{StatusCode: http.StatusOK, Data: map[string]any{"username": "john"}}, nil
	})
	s := newSession(t, Config{BaseURL: "http://x"}, executor)

	var r result
	await(t, s.Login(context.Background(), "john", "123", r.success, r.failure))
	err := r.err(t)
	if !errors.Is(err, domain.ErrNoToken) || domain.KindOf(err) != domain.KindParse {
		t.Errorf("error = %v, want parse error wrapping ErrNoToken", err)
	}
	if s.State() != StateAnonymous {
		t.Errorf("State() = %v, want anonymous", s.State())
	}
}

func TestSession_LoginRejected(t *testing.T) {
	backend := testutil.NewBackend(t, server.Config{Users: map[string]string{"john": "123"}})
	s := newSession(t, Config{BaseURL: backend.URL}, nil)

	var r result
	await(t, s.Login(context.Background(), "john", "wrong", r.success, r.failure))
	if err := r.err(t); domain.StatusOf(err) != http.StatusUnauthorized {
		t.Errorf("error = %v, want 401", err)
	}
	if s.State() != StateAnonymous || s.IsAuthenticated() {
		t.Errorf("State() = %v after rejected login", s.State())
	}

	login(t, s)
	if !s.IsAuthenticated() {
		t.Error("login with correct password failed")
	}
}

func TestSession_LoginWhileAuthenticated(t *testing.T) {
	var calls atomic.Int32
	executor := transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		calls.Add(1)
		return &transport.Response{StatusCode: http.StatusOK, Header: http.Header{"Auth-Token": {"t"}}}, nil
	})
	s := newSession(t, Config{BaseURL: "http://x"}, executor)
	login(t, s)

	var r result
	op := s.Login(context.Background(), "jane", "456", r.success, r.failure)
	select {
	case <-op.Done():
	default:
		t.Fatal("rejected login did not resolve synchronously")
	}
	err := r.err(t)
	if !errors.Is(err, domain.ErrInvalidAuthState) || !errors.Is(err, domain.ErrValidation) {
		t.Errorf("error = %v, want validation error wrapping ErrInvalidAuthState", err)
	}
	if calls.Load() != 1 {
		t.Errorf("executor called %d times, want 1", calls.Load())
	}
	if token, _ := s.Token(); token != "t" {
		t.Errorf("Token() = %q, want the first session's token", token)
	}
}

func TestSession_LogoutWhileAnonymous(t *testing.T) {
	var calls atomic.Int32
	executor := transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		calls.Add(1)
		return &transport.Response{StatusCode: http.StatusNoContent}, nil
	})
	s := newSession(t, Config{BaseURL: "http://x"}, executor)

	var r result
	await(t, s.Logout(context.Background(), r.success, r.failure))
	if r.value(t) != nil {
		t.Error("anonymous logout delivered a payload")
	}
	if calls.Load() != 0 {
		t.Errorf("executor called %d times, want 0", calls.Load())
	}
}

func TestSession_FailedLogoutClearsToken(t *testing.T) {
	backend := testutil.NewBackend(t, server.Config{})
	s := newSession(t, Config{BaseURL: backend.URL}, nil)
	login(t, s)

	// Drop the session server-side so the logout is refused.
	other := newSession(t, Config{BaseURL: backend.URL}, nil)
	token, _ := s.Token()
	other.mu.Lock()
	other.state, other.token = StateAuthenticated, token
	other.mu.Unlock()
	var first result
	await(t, other.Logout(context.Background(), first.success, first.failure))
	first.value(t)

	var r result
	await(t, s.Logout(context.Background(), r.success, r.failure))
	if err := r.err(t); domain.StatusOf(err) != http.StatusUnauthorized {
		t.Errorf("error = %v, want 401", err)
	}
	if s.State() != StateAnonymous || s.IsAuthenticated() {
		t.Errorf("token kept after failed logout: state %v", s.State())
	}
}

func TestSession_CancelLogin(t *testing.T) {
	backend := testutil.NewBackend(t, server.Config{Latency: time.Second})
	s := newSession(t, Config{BaseURL: backend.URL}, nil)

	var r result
	op := s.Login(context.Background(), "john", "123", r.success, r.failure)
	if s.State() != StateAuthenticating {
		t.Fatalf("State() = %v, want authenticating", s.State())
	}
	if n := s.Cancel(); n != 1 {
		t.Errorf("Cancel() = %d, want 1", n)
	}
	if s.State() != StateAnonymous {
		t.Errorf("State() after cancel = %v, want anonymous", s.State())
	}

	await(t, op)
	if !op.Cancelled() || r.calls() != 0 {
		t.Errorf("cancelled login: cancelled=%v callbacks=%d", op.Cancelled(), r.calls())
	}
	if s.IsAuthenticated() {
		t.Error("cancelled login left a token")
	}
}

func TestSession_CancelLogoutKeepsToken(t *testing.T) {
	s := newSession(t, Config{BaseURL: "http://x"}, blockingExecutor())
	login(t, s)

	var r result
	op := s.Logout(context.Background(), r.success, r.failure)
	if s.State() != StateLoggingOut {
		t.Fatalf("State() = %v, want loggingOut", s.State())
	}
	if token, ok := s.Token(); !ok || token != "t-1" {
		t.Errorf("Token() during logout = %q, %v", token, ok)
	}

	s.Cancel()
	await(t, op)
	if r.calls() != 0 {
		t.Error("callback fired for cancelled logout")
	}
	if s.State() != StateAuthenticated {
		t.Errorf("State() = %v, want authenticated", s.State())
	}
	if token, _ := s.Token(); token != "t-1" {
		t.Errorf("Token() = %q, want t-1", token)
	}
}

func TestSession_ParentContextCancelRollsBack(t *testing.T) {
	s := newSession(t, Config{BaseURL: "http://x"}, transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	var r result
	op := s.Login(ctx, "john", "123", r.success, r.failure)
	cancel()
	await(t, op)

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != StateAnonymous {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %v, want anonymous", s.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if r.calls() != 0 {
		t.Error("callback fired for abandoned login")
	}
}

func TestSession_Timeout(t *testing.T) {
	s := newSession(t, Config{BaseURL: "http://x", Timeout: 20 * time.Millisecond}, blockingExecutor())
	login(t, s)

	var r result
	await(t, s.Logout(context.Background(), r.success, r.failure))
	if err := r.err(t); !errors.Is(err, domain.ErrTimeout) {
		t.Errorf("error = %v, want timeout", err)
	}
	if s.IsAuthenticated() {
		t.Error("token kept after timed-out logout")
	}
}

func TestSession_Invalidate(t *testing.T) {
	s := newSession(t, Config{BaseURL: "http://x"}, blockingExecutor())
	login(t, s)

	s.Invalidate()
	if s.State() != StateAnonymous || s.IsAuthenticated() {
		t.Errorf("after Invalidate: state %v", s.State())
	}
	login(t, s)
}

func TestSession_InvalidateDuringLogout(t *testing.T) {
	s := newSession(t, Config{BaseURL: "http://x"}, blockingExecutor())
	login(t, s)

	var r result
	op := s.Logout(context.Background(), r.success, r.failure)
	if s.State() != StateLoggingOut {
		t.Fatalf("State() = %v, want loggingOut", s.State())
	}

	s.Invalidate()
	if s.State() != StateAnonymous {
		t.Errorf("State() after Invalidate = %v, want anonymous", s.State())
	}

	s.Cancel()
	await(t, op)
	if s.State() != StateAnonymous {
		t.Errorf("State() after Cancel = %v, want anonymous", s.State())
	}
	if token, ok := s.Token(); ok {
		t.Errorf("Token() = %q, want none", token)
	}
	login(t, s)
	if !s.IsAuthenticated() {
		t.Error("re-login after Invalidate did not authenticate")
	}
}

func TestSession_InvalidateDuringLogin(t *testing.T) {
	release := make(chan struct{})
	s := newSession(t, Config{BaseURL: "http://x"}, transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &transport.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Auth-Token": {"t-1"}},
		}, nil
	}))

	var r result
	op := s.Login(context.Background(), "john", "123", r.success, r.failure)
	s.Invalidate()
	close(release)
	await(t, op)

	r.value(t)
	if s.State() != StateAnonymous || s.IsAuthenticated() {
		t.Errorf("login finished after Invalidate set state %v", s.State())
	}
}

func TestSession_Enroll(t *testing.T) {
	backend := testutil.NewBackend(t, server.Config{})
	s := newSession(t, Config{BaseURL: backend.URL}, nil)

	user := domain.Record{"username": "john", "password": "123", "firstname": "John"}
	var r result
	await(t, s.Enroll(context.Background(), user, r.success, r.failure))
	got, ok := r.value(t).(map[string]any)
	if !ok || got["username"] != "john" || got["password"] != nil {
		t.Errorf("enroll payload = %v", got)
	}
	if s.State() != StateAnonymous {
		t.Errorf("State() = %v after enroll", s.State())
	}

	var dup result
	await(t, s.Enroll(context.Background(), user, dup.success, dup.failure))
	if err := dup.err(t); domain.StatusOf(err) != http.StatusConflict {
		t.Errorf("duplicate enroll error = %v, want 409", err)
	}

	// Enrolled credentials are now required.
	var bad result
	await(t, s.Login(context.Background(), "john", "nope", bad.success, bad.failure))
	if err := bad.err(t); domain.StatusOf(err) != http.StatusUnauthorized {
		t.Errorf("login error = %v, want 401", err)
	}
	login(t, s)
}

func TestSession_EnrollRequiresData(t *testing.T) {
	s := newSession(t, Config{BaseURL: "http://x"}, blockingExecutor())
	var r result
	await(t, s.Enroll(context.Background(), nil, r.success, r.failure))
	if err := r.err(t); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestSession_TokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "john",
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"jwt", signed, true},
		{"opaque", "t-1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := transport.ExecutorFunc(func(ctx context.Context, req *transport.Request) (*transport.Response, error) {
				return &transport.Response{StatusCode: http.StatusOK, Header: http.Header{"Auth-Token": {tt.token}}}, nil
			})
			s := newSession(t, Config{BaseURL: "http://x"}, executor)

			if _, ok := s.TokenExpiry(); ok {
				t.Error("TokenExpiry() reported an expiry while anonymous")
			}
			login(t, s)

			got, ok := s.TokenExpiry()
			if ok != tt.ok {
				t.Fatalf("TokenExpiry() ok = %v, want %v", ok, tt.ok)
			}
			if ok && !got.Equal(exp) {
				t.Errorf("TokenExpiry() = %v, want %v", got, exp)
			}
		})
	}
}

func TestConfig_Resolve(t *testing.T) {
	got := Config{Name: "auth", Type: "REST"}.Resolve()
	want := Config{
		Name:            "auth",
		Type:            "rest",
		LoginEndpoint:   "auth/login",
		LogoutEndpoint:  "auth/logout",
		EnrollEndpoint:  "auth/enroll",
		TokenHeaderName: "Auth-Token",
		Timeout:         60 * time.Second,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}
