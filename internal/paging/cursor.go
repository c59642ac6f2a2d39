// Package paging extracts continuation metadata from responses and
// provides ResultSet, a page of records that can move forward and backward
// through the pipe that produced it.
//
// Three server conventions are supported, selected per pipe:
//
//   - webLinking: RFC 5988 Link header, e.g. `<https://x/a?p=2>; rel="next"`.
//     The URL is requested verbatim.
//   - header: custom response headers named by the next/previous
//     identifiers, whose values are continuation tokens.
//   - body: top-level fields of the JSON body named by the identifiers.
//
// For header and body tokens, a URL or query string (a value containing "?"
// or "=") has its parameters merged into the current parameters. Any other
// value is sent as a single parameter keyed by the identifier itself.
//
// Moving past the first or last page is left to the server: the library does
// not distinguish an empty page from the end of the collection.
package paging

import (
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/transport"
)

// Location is where continuation metadata is found in a response.
type Location string

const (
	WebLinking Location = "webLinking"
	Header     Location = "header"
	Body       Location = "body"
)

const (
	DefaultNextIdentifier     = "next"
	DefaultPreviousIdentifier = "previous"
)

// ParseLocation maps a configuration value onto a Location. Unknown values
// fall back to WebLinking.
func ParseLocation(s string) Location {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "header":
		return Header
	case "body":
		return Body
	default:
		return WebLinking
	}
}

// Continuation is how to request an adjacent page: either a URL to request
// verbatim or parameters to merge into the current ones. The zero value
// means the direction is exhausted.
type Continuation struct {
	URL    string
	Params domain.Params
}

// IsZero reports whether no further page is available.
func (c Continuation) IsZero() bool {
	return c.URL == "" && len(c.Params) == 0
}

// Links holds both continuations of a page.
type Links struct {
	Next     Continuation
	Previous Continuation
}

// Cursor extracts Links from responses for one pipe configuration. It holds
// no state between calls.
type Cursor struct {
	Location           Location
	NextIdentifier     string
	PreviousIdentifier string
}

// NewCursor returns a cursor with empty identifiers replaced by defaults.
func NewCursor(location Location, next, previous string) Cursor {
	if next == "" {
		next = DefaultNextIdentifier
	}
	if previous == "" {
		previous = DefaultPreviousIdentifier
	}
	return Cursor{
		Location:           ParseLocation(string(location)),
		NextIdentifier:     next,
		PreviousIdentifier: previous,
	}
}

// Extract reads the continuations carried by resp. Missing or malformed
// metadata yields an exhausted direction rather than an error.
func (c Cursor) Extract(resp *transport.Response) Links {
	if resp == nil {
		return Links{}
	}

	switch c.Location {
	case Header:
		return Links{
			Next:     fromToken(c.NextIdentifier, resp.Header.Get(c.NextIdentifier)),
			Previous: fromToken(c.PreviousIdentifier, resp.Header.Get(c.PreviousIdentifier)),
		}
	case Body:
		return Links{
			Next:     fromToken(c.NextIdentifier, bodyField(resp.Body, c.NextIdentifier)),
			Previous: fromToken(c.PreviousIdentifier, bodyField(resp.Body, c.PreviousIdentifier)),
		}
	default:
		links := ParseLinkHeader(resp.Header.Values("Link"))
		return Links{
			Next:     Continuation{URL: relURL(links, resp.URL, c.NextIdentifier, "next")},
			Previous: Continuation{URL: relURL(links, resp.URL, c.PreviousIdentifier, "previous", "prev")},
		}
	}
}

// bodyField returns a scalar top-level field of a JSON object body.
func bodyField(body []byte, name string) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return ""
	}
	field := root.Get(escapePath(name))
	switch field.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return field.String()
	default:
		return ""
	}
}

// escapePath escapes gjson path syntax so name is matched as one literal key.
func escapePath(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '!', '=', '<', '>', '%', '\\', '(', ')', '[', ']', '{', '}', ',', ':', '"':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func fromToken(identifier, token string) Continuation {
	token = strings.TrimSpace(token)
	if token == "" {
		return Continuation{}
	}

	query, isQuery := "", false
	if _, q, ok := strings.Cut(token, "?"); ok {
		query, isQuery = q, true
	} else if strings.Contains(token, "=") {
		query, isQuery = token, true
	}
	if isQuery {
		values, err := url.ParseQuery(query)
		if err != nil || len(values) == 0 {
			return Continuation{}
		}
		params := make(domain.Params, len(values))
		for k, v := range values {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
		return Continuation{Params: params}
	}

	return Continuation{Params: domain.Params{identifier: token}}
}
