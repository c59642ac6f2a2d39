package testutil

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/dnaeon/go-vcr.v2/cassette"
	"gopkg.in/dnaeon/go-vcr.v2/recorder"

	"github.com/tjfontaine/restpipe/internal/transport"
)

// CassetteDir holds recorded sessions, relative to the test's package.
var CassetteDir = filepath.Join("testdata", "fixtures")

// NewVCRExecutor returns an executor that replays the cassette
// testdata/fixtures/<cassetteName>.yaml. With VCR_MODE=record it talks to
// the live backend and records instead. The recorder stops when the test
// ends.
//
// Interactions match on method and URL; request bodies are not compared.
// Values of tokenHeaders (Auth-Token when none are given) are dropped from
// recorded requests and responses.
func NewVCRExecutor(t *testing.T, cassetteName string, tokenHeaders ...string) *transport.HTTPExecutor {
	t.Helper()

	mode := recorder.ModeReplaying
	if os.Getenv("VCR_MODE") == "record" {
		mode = recorder.ModeRecording
	}

	r, err := recorder.NewAsMode(filepath.Join(CassetteDir, cassetteName), mode, nil)
	if err != nil {
		t.Fatalf("create recorder for %s: %v", cassetteName, err)
	}
	t.Cleanup(func() {
		if err := r.Stop(); err != nil {
			t.Errorf("stop recorder for %s: %v", cassetteName, err)
		}
	})

	r.SetMatcher(func(req *http.Request, i cassette.Request) bool {
		return req.Method == i.Method && req.URL.String() == i.URL
	})

	if len(tokenHeaders) == 0 {
		tokenHeaders = []string{"Auth-Token"}
	}
	r.AddFilter(func(i *cassette.Interaction) error {
		for _, h := range tokenHeaders {
			i.Request.Headers.Del(h)
			i.Response.Headers.Del(h)
		}
		return nil
	})

	return transport.NewHTTPExecutor(
		transport.WithHTTPClient(&http.Client{Transport: r}),
		transport.WithLogger(DiscardLogger()),
	)
}
