package auth

import (
	"net/url"
	"strings"
	"time"

	"github.com/tjfontaine/restpipe/internal/domain"
)

// Defaults applied by Config.Resolve.
const (
	DefaultType            = "rest"
	DefaultLoginEndpoint   = "auth/login"
	DefaultLogoutEndpoint  = "auth/logout"
	DefaultEnrollEndpoint  = "auth/enroll"
	DefaultTokenHeaderName = "Auth-Token"
	DefaultTimeout         = 60 * time.Second
)

// Config describes one auth module.
type Config struct {
	// Name identifies the module within an Authenticator. Required.
	Name string

	// Type selects the registered factory. Defaults to "rest".
	Type string

	BaseURL        string
	LoginEndpoint  string
	LogoutEndpoint string
	EnrollEndpoint string

	// TokenHeaderName names the header carrying the session token, both in
	// the login response and on authenticated requests.
	TokenHeaderName string

	Timeout time.Duration
}

// Resolve returns a copy of c with defaults applied.
func (c Config) Resolve() Config {
	if c.Type == "" {
		c.Type = DefaultType
	}
	c.Type = strings.ToLower(c.Type)
	if c.LoginEndpoint == "" {
		c.LoginEndpoint = DefaultLoginEndpoint
	}
	if c.LogoutEndpoint == "" {
		c.LogoutEndpoint = DefaultLogoutEndpoint
	}
	if c.EnrollEndpoint == "" {
		c.EnrollEndpoint = DefaultEnrollEndpoint
	}
	if c.TokenHeaderName == "" {
		c.TokenHeaderName = DefaultTokenHeaderName
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Validate reports configuration errors that defaults cannot fix.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return domain.ErrInvalid("auth module name is required", nil)
	}
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return domain.ErrInvalid("invalid base URL", err)
		}
	}
	return nil
}
