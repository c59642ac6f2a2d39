// Package restpipe provides the public API for talking to a REST backend
// through named pipes with shared authentication and paging.
// This is the stable API for external consumers.
package restpipe

import (
	"github.com/tjfontaine/restpipe/internal/auth"
	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/inflight"
	"github.com/tjfontaine/restpipe/internal/paging"
	"github.com/tjfontaine/restpipe/internal/pipe"
	"github.com/tjfontaine/restpipe/internal/pkg/config"
	"github.com/tjfontaine/restpipe/internal/runtime"
	"github.com/tjfontaine/restpipe/internal/store"
	"github.com/tjfontaine/restpipe/internal/store/query"
	"github.com/tjfontaine/restpipe/internal/transport"
)

// Client owns a Pipeline, an Authenticator and a DataManager.
// See internal/runtime.Client for full documentation.
type Client = runtime.Client

// Option is a functional option for configuring a Client.
type Option = runtime.Option

// New creates a new Client with the given options.
// Example:
//
//	c, err := restpipe.New(
//	    restpipe.WithConfigFile("restpipe.yaml"),
//	    restpipe.WithLogger(logger),
//	)
var New = runtime.New

// Configuration options
var (
	WithConfigFile = runtime.WithConfigFile
	WithConfig     = runtime.WithConfig
	WithBaseURL    = runtime.WithBaseURL
	WithHTTPClient = runtime.WithHTTPClient
	WithExecutor   = runtime.WithExecutor
	WithLogger     = runtime.WithLogger

	LoadConfig = config.Load
)

// Core types
type (
	Config        = config.Config
	Pipe          = pipe.Pipe
	PipeConfig    = pipe.Config
	Pipeline      = pipe.Pipeline
	AuthModule    = auth.Module
	AuthConfig    = auth.Config
	AuthState     = auth.State
	Authenticator = auth.Authenticator
	Store         = store.Store
	StoreConfig   = store.Config
	DataManager   = store.DataManager
	ResultSet     = paging.ResultSet
	Location      = paging.Location
	Operation     = inflight.Operation
	Record        = domain.Record
	Params        = domain.Params
	Error         = domain.Error
	ErrorKind     = domain.ErrorKind
	Executor      = transport.Executor
	ExecutorFunc  = transport.ExecutorFunc
	Request       = transport.Request
	Response      = transport.Response
	Expr          = query.Expr
)

// Paging metadata locations
const (
	WebLinking = paging.WebLinking
	Header     = paging.Header
	Body       = paging.Body
)

// Auth session states
const (
	StateAnonymous      = auth.StateAnonymous
	StateAuthenticating = auth.StateAuthenticating
	StateAuthenticated  = auth.StateAuthenticated
	StateLoggingOut     = auth.StateLoggingOut
)

// Error kinds
const (
	KindNetwork    = domain.KindNetwork
	KindTimeout    = domain.KindTimeout
	KindHTTPStatus = domain.KindHTTPStatus
	KindParse      = domain.KindParse
	KindValidation = domain.KindValidation
)

// Error sentinels, usable with errors.Is.
var (
	ErrNetwork          = domain.ErrNetwork
	ErrTimeout          = domain.ErrTimeout
	ErrHTTPStatus       = domain.ErrHTTPStatus
	ErrParse            = domain.ErrParse
	ErrValidation       = domain.ErrValidation
	ErrMissingRecordID  = domain.ErrMissingRecordID
	ErrPageInFlight     = domain.ErrPageInFlight
	ErrInvalidAuthState = domain.ErrInvalidAuthState
	ErrNoToken          = domain.ErrNoToken
	ErrUnknownType      = domain.ErrUnknownType

	KindOf   = domain.KindOf
	StatusOf = domain.StatusOf
)

// Extension points
var (
	RegisterPipeFactory  = pipe.RegisterFactory
	RegisterAuthFactory  = auth.RegisterFactory
	RegisterStoreFactory = store.RegisterFactory
	NewHTTPExecutor      = transport.NewHTTPExecutor
)
