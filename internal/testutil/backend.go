// Package testutil provides test helpers: a live in-process resource server
// and go-vcr recorders for replayed sessions.
package testutil

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/tjfontaine/restpipe/internal/server"
)

// Backend is a resource server listening on a local port for one test.
type Backend struct {
	*server.Server

	// URL is the base URL, e.g. http://127.0.0.1:34567.
	URL string
}

// NewBackend starts a resource server that is closed when the test ends.
func NewBackend(t *testing.T, cfg server.Config) *Backend {
	t.Helper()

	s := server.New(cfg, DiscardLogger())
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)

	return &Backend{Server: s, URL: ts.URL}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
