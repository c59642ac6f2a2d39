package domain

// TokenSource supplies the current session token to outgoing requests.
// Token reports false when no token is held.
type TokenSource interface {
	Token() (string, bool)
	TokenHeaderName() string
}

// AuthModule is an authentication module that pipes can attach to.
type AuthModule interface {
	TokenSource

	Name() string
	Type() string
}
