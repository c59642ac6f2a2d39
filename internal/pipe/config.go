package pipe

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/paging"
)

// Defaults applied by Config.Resolve.
const (
	DefaultType     = "rest"
	DefaultRecordID = "id"
	DefaultOffset   = "0"
	DefaultLimit    = 10
	DefaultTimeout  = 60 * time.Second
)

// Config describes one pipe. Zero fields take the defaults above; a pipe
// copies its config at construction and never changes it afterwards.
type Config struct {
	// Name identifies the pipe within a Pipeline. Required.
	Name string

	// Type selects the registered factory. Defaults to "rest".
	Type string

	// Endpoint is the resource path below BaseURL. Defaults to Name.
	Endpoint string

	BaseURL string

	// RecordID is the field holding a record's id. Defaults to "id".
	RecordID string

	// ParameterProvider holds the query parameters of a read when none
	// are given. Defaults to {"offset": Offset, "limit": Limit}.
	ParameterProvider domain.Params

	Offset string
	Limit  int

	// MetadataLocation selects how paging links are read.
	MetadataLocation   paging.Location
	NextIdentifier     string
	PreviousIdentifier string

	// AuthModule supplies the token attached to every request, if set.
	AuthModule domain.TokenSource

	// Timeout bounds each request. Defaults to 60s.
	Timeout time.Duration
}

// Resolve returns a copy of c with defaults applied.
func (c Config) Resolve() Config {
	if c.Type == "" {
		c.Type = DefaultType
	}
	c.Type = strings.ToLower(c.Type)
	if c.Endpoint == "" {
		c.Endpoint = c.Name
	}
	if c.RecordID == "" {
		c.RecordID = DefaultRecordID
	}
	if c.Offset == "" {
		c.Offset = DefaultOffset
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	cursor := paging.NewCursor(c.MetadataLocation, c.NextIdentifier, c.PreviousIdentifier)
	c.MetadataLocation = cursor.Location
	c.NextIdentifier = cursor.NextIdentifier
	c.PreviousIdentifier = cursor.PreviousIdentifier

	if c.ParameterProvider == nil {
		c.ParameterProvider = domain.Params{
			"offset": c.Offset,
			"limit":  strconv.Itoa(c.Limit),
		}
	} else {
		c.ParameterProvider = domain.CloneParams(c.ParameterProvider)
	}
	return c
}

// Validate reports configuration errors that defaults cannot fix.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return domain.ErrInvalid("pipe name is required", nil)
	}
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return domain.ErrInvalid("invalid base URL", err)
		}
	}
	return nil
}

// Cursor returns the paging cursor described by c.
func (c Config) Cursor() paging.Cursor {
	return paging.NewCursor(c.MetadataLocation, c.NextIdentifier, c.PreviousIdentifier)
}

// JoinURL joins a base URL and a path with exactly one slash between them.
func JoinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = strings.TrimLeft(path, "/")
	switch {
	case base == "":
		return path
	case path == "":
		return base
	default:
		return base + "/" + path
	}
}

// withQuery adds params to rawURL, keeping any query it already carries.
func withQuery(rawURL string, params domain.Params) (string, error) {
	if len(params) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", domain.ErrInvalid("invalid request URL", err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
