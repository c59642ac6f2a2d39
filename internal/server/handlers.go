package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/store"
	"github.com/tjfontaine/restpipe/internal/store/query"
)

func collectionParam(r *http.Request) string {
	return chi.URLParam(r, "collection")
}

// page is one slice of a collection plus the URLs of its neighbours.
type page struct {
	records  []domain.Record
	next     string
	previous string
}

func (s *Server) readPage(r *http.Request) (page, error) {
	q := r.URL.Query()

	offset, err := intParam(q, "offset", 0)
	if err != nil {
		return page{}, err
	}
	limit, err := intParam(q, "limit", s.cfg.PageSize)
	if err != nil {
		return page{}, err
	}
	if offset < 0 || limit <= 0 {
		return page{}, errors.New("offset must be >= 0 and limit > 0")
	}

	records, err := s.collection(collectionParam(r)).Filter(r.Context(), filterFrom(q))
	if err != nil {
		return page{}, err
	}

	start := min(offset*limit, len(records))
	end := min(start+limit, len(records))
	p := page{records: records[start:end]}

	link := func(o int) string {
		u := url.URL{Scheme: "http", Host: r.Host, Path: r.URL.Path}
		lq := url.Values{}
		for k, v := range q {
			lq[k] = v
		}
		lq.Set("offset", strconv.Itoa(o))
		lq.Set("limit", strconv.Itoa(limit))
		u.RawQuery = lq.Encode()
		return u.String()
	}
	if end < len(records) {
		p.next = link(offset + 1)
	}
	if offset > 0 {
		p.previous = link(offset - 1)
	}
	return p, nil
}

// filterFrom turns query parameters other than offset and limit into
// equality filters. Numeric values also match numbers.
func filterFrom(q url.Values) query.Expr {
	var exprs []query.Expr
	for k, values := range q {
		if k == "offset" || k == "limit" || len(values) == 0 {
			continue
		}
		v := values[0]
		expr := query.Eq(k, v)
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			expr = query.Or(expr, query.Eq(k, n))
		}
		exprs = append(exprs, expr)
	}
	return query.And(exprs...)
}

func intParam(q url.Values, key string, def int) (int, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	p, err := s.readPage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var links []string
	if p.next != "" {
		links = append(links, fmt.Sprintf(`<%s>; rel="next"`, p.next))
		w.Header().Set("AG-Links-Next", p.next)
	}
	if p.previous != "" {
		links = append(links, fmt.Sprintf(`<%s>; rel="previous"`, p.previous))
		w.Header().Set("AG-Links-Previous", p.previous)
	}
	for _, l := range links {
		w.Header().Add("Link", l)
	}

	writeJSON(w, http.StatusOK, p.records)
}

func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	p, err := s.readPage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body := map[string]any{"data": p.records}
	if p.next != "" {
		body["next"] = p.next
	}
	if p.previous != "" {
		body["previous"] = p.previous
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	record, err := s.collection(collectionParam(r)).Read(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	record, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	saved, err := s.collection(collectionParam(r)).Save(r.Context(), record)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved[0])
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	record, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	record[store.DefaultRecordID] = chi.URLParam(r, "id")
	saved, err := s.collection(collectionParam(r)).Save(r.Context(), record)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved[0])
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.collection(collectionParam(r)).Remove(r.Context(), domain.Record{
		store.DefaultRecordID: chi.URLParam(r, "id"),
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	record, ok := decodeRecord(w, r)
	if !ok {
		return
	}
	username, _ := record["username"].(string)
	if username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}
	if _, err := s.users.Read(r.Context(), username); err == nil {
		writeError(w, http.StatusConflict, "user already enrolled")
		return
	}

	record["id"] = uuid.New().String()
	if _, err := s.users.Save(r.Context(), record); err != nil {
		writeStoreError(w, err)
		return
	}

	delete(record, "password")
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.checkCredentials(r, creds.Username, creds.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token := uuid.New().String()
	s.mu.Lock()
	s.sessions[token] = creds.Username
	s.mu.Unlock()

	s.logger.Debug("session opened", slog.String("user", creds.Username))

	body := map[string]any{"username": creds.Username}
	if s.cfg.TokenInBody {
		body["access_token"] = token
	} else {
		w.Header().Set(s.cfg.TokenHeader, token)
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) checkCredentials(r *http.Request, username, password string) bool {
	if username == "" {
		return false
	}
	if want, ok := s.cfg.Users[username]; ok {
		return want == password
	}
	if enrolled, err := s.users.Read(r.Context(), username); err == nil {
		return enrolled["password"] == password
	}

	all, _ := s.users.ReadAll(r.Context())
	return len(s.cfg.Users) == 0 && len(all) == 0
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(s.cfg.TokenHeader)

	s.mu.Lock()
	_, ok := s.sessions[token]
	delete(s.sessions, token)
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusUnauthorized, "no such session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeRecord(w http.ResponseWriter, r *http.Request) (domain.Record, bool) {
	var record domain.Record
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil || record == nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object")
		return nil, false
	}
	return record, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
