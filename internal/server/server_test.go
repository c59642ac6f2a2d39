package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tjfontaine/restpipe/internal/domain"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s := New(cfg, nil)
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func seedCars(t *testing.T, s *Server, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		if err := s.Seed("cars", domain.Record{"id": fmt.Sprint(i), "brand": "car" + fmt.Sprint(i)}); err != nil {
			t.Fatalf("Seed() error = %v", err)
		}
	}
}

func do(t *testing.T, method, url, body string, header http.Header) (*http.Response, any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var data any
	json.NewDecoder(resp.Body).Decode(&data)
	return resp, data
}

func TestServer_ListPaging(t *testing.T) {
	s, ts := newTestServer(t, Config{PageSize: 2})
	seedCars(t, s, 5)

	resp, data := do(t, http.MethodGet, ts.URL+"/cars?offset=1", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ids := idsOf(data); !cmp.Equal(ids, []string{"3", "4"}) {
		t.Errorf("page ids = %v, want [3 4]", ids)
	}

	next := ts.URL + "/cars?limit=2&offset=2"
	prev := ts.URL + "/cars?limit=2&offset=0"
	wantLinks := []string{
		fmt.Sprintf(`<%s>; rel="next"`, next),
		fmt.Sprintf(`<%s>; rel="previous"`, prev),
	}
	if diff := cmp.Diff(wantLinks, resp.Header.Values("Link")); diff != "" {
		t.Errorf("Link headers mismatch (-want +got):\n%s", diff)
	}
	if got := resp.Header.Get("AG-Links-Next"); got != next {
		t.Errorf("AG-Links-Next = %q, want %q", got, next)
	}

	resp, _ = do(t, http.MethodGet, next, "", nil)
	if links := resp.Header.Values("Link"); len(links) != 1 || !strings.Contains(links[0], `rel="previous"`) {
		t.Errorf("last page links = %v, want only previous", links)
	}
}

func TestServer_EnvelopeAndFilter(t *testing.T) {
	s, ts := newTestServer(t, Config{PageSize: 10})
	seedCars(t, s, 3)
	s.Seed("cars", domain.Record{"id": "9", "brand": "car1", "year": 1999})

	_, data := do(t, http.MethodGet, ts.URL+"/envelope/cars?brand=car1", "", nil)
	body, ok := data.(map[string]any)
	if !ok {
		t.Fatalf("envelope body = %T", data)
	}
	if ids := idsOf(body["data"]); !cmp.Equal(ids, []string{"1", "9"}) {
		t.Errorf("filtered ids = %v, want [1 9]", ids)
	}
	if _, ok := body["next"]; ok {
		t.Error("single page envelope has a next link")
	}

	_, data = do(t, http.MethodGet, ts.URL+"/cars?year=1999", "", nil)
	if ids := idsOf(data); !cmp.Equal(ids, []string{"9"}) {
		t.Errorf("numeric filter ids = %v, want [9]", ids)
	}
}

func TestServer_CRUD(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, data := do(t, http.MethodPost, ts.URL+"/cars", `{"brand":"Ford"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	id := data.(map[string]any)["id"].(string)

	resp, _ = do(t, http.MethodPut, ts.URL+"/cars/"+id, `{"brand":"Fiat"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	_, data = do(t, http.MethodGet, ts.URL+"/cars/"+id, "", nil)
	if brand := data.(map[string]any)["brand"]; brand != "Fiat" {
		t.Errorf("brand after update = %v", brand)
	}

	resp, _ = do(t, http.MethodDelete, ts.URL+"/cars/"+id, "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, ts.URL+"/cars/"+id, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete status = %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/cars", `[1,2]`, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-object create status = %d", resp.StatusCode)
	}
}

func TestServer_Sessions(t *testing.T) {
	s, ts := newTestServer(t, Config{Protected: []string{"secrets"}})
	s.Seed("secrets", domain.Record{"id": "1"})

	resp, _ := do(t, http.MethodGet, ts.URL+"/secrets", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d, want 401", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/auth/enroll", `{"username":"ada","password":"pw"}`, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enroll status = %d", resp.StatusCode)
	}
	if s.Sessions() != 0 {
		t.Error("enroll opened a session")
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/auth/login", `{"username":"ada","password":"wrong"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password status = %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/auth/login", `{"username":"ada","password":"pw"}`, nil)
	token := resp.Header.Get(DefaultTokenHeader)
	if token == "" {
		t.Fatal("login returned no token header")
	}

	auth := http.Header{DefaultTokenHeader: {token}}
	resp, _ = do(t, http.MethodGet, ts.URL+"/secrets", "", auth)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/auth/logout", "", auth)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("logout status = %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, ts.URL+"/secrets", "", auth)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status after logout = %d, want 401", resp.StatusCode)
	}
}

func TestServer_RecordsRequests(t *testing.T) {
	s, ts := newTestServer(t, Config{})
	do(t, http.MethodPost, ts.URL+"/cars?x=1", `{"brand":"Ford"}`, http.Header{"X-Test": {"yes"}})

	reqs := s.Requests()
	if len(reqs) != 1 {
		t.Fatalf("recorded %d requests, want 1", len(reqs))
	}
	got := reqs[0]
	if got.Method != http.MethodPost || got.Path != "/cars" || got.RawQuery != "x=1" {
		t.Errorf("recorded request = %s %s?%s", got.Method, got.Path, got.RawQuery)
	}
	if got.Header.Get("X-Test") != "yes" || string(got.Body) != `{"brand":"Ford"}` {
		t.Errorf("recorded header/body = %v / %s", got.Header, got.Body)
	}

	s.ResetRequests()
	if len(s.Requests()) != 0 {
		t.Error("ResetRequests() kept requests")
	}
}

func idsOf(data any) []string {
	items, _ := data.([]any)
	ids := []string{}
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			ids = append(ids, domain.FormatID(m["id"]))
		}
	}
	return ids
}
