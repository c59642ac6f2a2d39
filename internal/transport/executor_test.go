package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/restpipe/internal/domain"
)

func TestHTTPExecutor_Do_Success(t *testing.T) {
	var gotMethod, gotToken, gotContentType string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotToken = r.Header.Get("Auth-Token")
		gotContentType = r.Header.Get("Content-Type")
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &gotBody)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": 8, "title": "Created"}`))
	}))
	defer server.Close()

	exec := NewHTTPExecutor(WithHTTPClient(server.Client()))
	resp, err := exec.Do(context.Background(), &Request{
		Method: http.MethodPost,
		URL:    server.URL + "/projects",
		Header: http.Header{"Auth-Token": []string{"secret"}},
		Body:   map[string]any{"title": "Created"},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotToken != "secret" {
		t.Errorf("Auth-Token = %q, want secret", gotToken)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if diff := cmp.Diff(map[string]any{"title": "Created"}, gotBody); diff != "" {
		t.Errorf("request body mismatch (-want +got):\n%s", diff)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}
	if diff := cmp.Diff(map[string]any{"id": float64(8), "title": "Created"}, resp.Data); diff != "" {
		t.Errorf("Data mismatch (-want +got):\n%s", diff)
	}
}

func TestHTTPExecutor_Do_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	exec := NewHTTPExecutor(WithHTTPClient(server.Client()))
	resp, err := exec.Do(context.Background(), &Request{Method: http.MethodDelete, URL: server.URL + "/projects/1"})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if resp.Data != nil {
		t.Errorf("Data = %v, want nil", resp.Data)
	}
}

func TestHTTPExecutor_Do_Failures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantKind   domain.ErrorKind
		wantStatus int
		wantBody   string
	}{
		{
			name: "status outside 2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"error":"missing"}`))
			},
			wantKind:   domain.KindHTTPStatus,
			wantStatus: http.StatusNotFound,
			wantBody:   `{"error":"missing"}`,
		},
		{
			name: "redirect loop target status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantKind:   domain.KindHTTPStatus,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name: "invalid json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`<html>oops</html>`))
			},
			wantKind: domain.KindParse,
			wantBody: `<html>oops</html>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			exec := NewHTTPExecutor(WithHTTPClient(server.Client()))
			_, err := exec.Do(context.Background(), &Request{Method: http.MethodGet, URL: server.URL})
			if err == nil {
				t.Fatal("expected error")
			}

			var derr *domain.Error
			if !errors.As(err, &derr) {
				t.Fatalf("error type = %T, want *domain.Error", err)
			}
			if derr.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", derr.Kind, tt.wantKind)
			}
			if derr.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", derr.StatusCode, tt.wantStatus)
			}
			if string(derr.Body) != tt.wantBody {
				t.Errorf("Body = %q, want %q", derr.Body, tt.wantBody)
			}
		})
	}
}

func TestHTTPExecutor_Do_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	exec := NewHTTPExecutor()
	_, err := exec.Do(context.Background(), &Request{Method: http.MethodGet, URL: url})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("Do() error = %v, want network error", err)
	}
}

func TestHTTPExecutor_Do_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	exec := NewHTTPExecutor(WithHTTPClient(server.Client()))
	_, err := exec.Do(ctx, &Request{Method: http.MethodGet, URL: server.URL})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("Do() error = %v, want timeout", err)
	}
}

func TestHTTPExecutor_Do_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	exec := NewHTTPExecutor(WithHTTPClient(server.Client()))
	_, err := exec.Do(ctx, &Request{Method: http.MethodGet, URL: server.URL})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("Do() error = %v, want cancellation", err)
	}
	if domain.KindOf(err) != "" {
		t.Errorf("cancellation must not carry an error kind, got %q", domain.KindOf(err))
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    any
		wantErr bool
	}{
		{"array", `[{"id":1}]`, []any{map[string]any{"id": float64(1)}}, false},
		{"object", `{"a":"b"}`, map[string]any{"a": "b"}, false},
		{"empty", ``, nil, false},
		{"whitespace", "  \n", nil, false},
		{"invalid", `{`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.body))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
