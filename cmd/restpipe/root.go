package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/restpipe/internal/telemetry"
	"github.com/tjfontaine/restpipe/pkg/restpipe"
)

const (
	configFlag   = "config"
	logLevelFlag = "log-level"
	traceFlag    = "trace"
	loginFlag    = "login"
	baseURLFlag  = "base-url"
)

var errCancelled = errors.New("operation cancelled")

// app is the state shared by all subcommands of one invocation.
type app struct {
	configPath string
	logLevel   string
	trace      bool
	login      string
	baseURL    string

	// Set in setup.
	cfg      *restpipe.Config
	logger   *slog.Logger
	client   *restpipe.Client
	shutdown func(context.Context) error
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "restpipe",
		Short: "Read and write REST resources through configured pipes",
		Long: `restpipe drives the pipes, auth modules and stores described in a YAML
configuration (default restpipe.yaml, overridable with RESTPIPE_* environment
variables). It can also run a demo resource server to try them against.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, configFlag, "", "configuration file (default restpipe.yaml if present)")
	flags.StringVar(&a.logLevel, logLevelFlag, "", "log level: debug, info, warn or error (overrides log_level)")
	flags.BoolVar(&a.trace, traceFlag, false, "export spans to stderr")
	flags.StringVar(&a.login, loginFlag, "", "log in as user:password through the pipe's auth module first")
	flags.StringVar(&a.baseURL, baseURLFlag, "", "base URL for pipes and auth modules that set none")

	cmd.AddCommand(
		newReadCommand(a),
		newReadOneCommand(a),
		newPageCommand(a),
		newSaveCommand(a),
		newRemoveCommand(a),
		newEnrollCommand(a),
		newServeCommand(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := restpipe.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	levelName := cfg.LogLevel
	if a.logLevel != "" {
		levelName = a.logLevel
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", levelName, err)
	}

	// Initialize structured logger
	a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(a.logger)

	if a.trace {
		shutdown, err := telemetry.InitTracer("restpipe", cmd.ErrOrStderr(), a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		a.shutdown = shutdown
	}

	opts := []restpipe.Option{
		restpipe.WithConfig(cfg),
		restpipe.WithLogger(a.logger),
	}
	if a.baseURL != "" {
		opts = append(opts, restpipe.WithBaseURL(a.baseURL))
	}
	client, err := restpipe.New(opts...)
	if err != nil {
		return err
	}
	a.client = client
	return nil
}

// run wraps a subcommand so the client and tracer are released however it
// ends.
func (a *app) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			err = errors.Join(err, a.teardown(cmd.Context()))
		}()
		return fn(cmd, args)
	}
}

func (a *app) teardown(ctx context.Context) error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.shutdown != nil {
		if err := a.shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}
	return errors.Join(errs...)
}

// pipe looks up a configured pipe.
func (a *app) pipe(name string) (restpipe.Pipe, error) {
	p, ok := a.client.Pipe(name)
	if !ok {
		return nil, fmt.Errorf("unknown pipe %q (configured: %s)", name, strings.Join(a.client.Pipeline.Names(), ", "))
	}
	return p, nil
}

// authenticate logs in through the pipe's auth module when --login is set
// and returns a function that logs out again.
func (a *app) authenticate(ctx context.Context, pipeName string) (func(), error) {
	noop := func() {}
	if a.login == "" {
		return noop, nil
	}

	username, password, ok := strings.Cut(a.login, ":")
	if !ok {
		return nil, fmt.Errorf("--%s must be user:password", loginFlag)
	}
	pc, ok := a.cfg.Pipe(pipeName)
	if !ok || pc.AuthModule == "" {
		return nil, fmt.Errorf("pipe %q has no auth_module to log in with", pipeName)
	}
	module, ok := a.client.AuthModule(pc.AuthModule)
	if !ok {
		return nil, fmt.Errorf("unknown auth module %q", pc.AuthModule)
	}

	_, err := call(ctx, a.client, func(onSuccess func(any), onFailure func(error)) *restpipe.Operation {
		return module.Login(ctx, username, password, onSuccess, onFailure)
	})
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	// Logout runs after the command even when ctx has ended, so that an
	// interrupted command still closes its session.
	return func() {
		logoutCtx := context.WithoutCancel(ctx)
		_, err := call(logoutCtx, a.client, func(onSuccess func(any), onFailure func(error)) *restpipe.Operation {
			return module.Logout(logoutCtx, onSuccess, onFailure)
		})
		if err != nil {
			a.logger.Warn("logout failed", slog.String("error", err.Error()))
		}
	}, nil
}

// call runs one asynchronous operation to completion. If ctx ends first,
// every operation of the client is cancelled.
func call[T any](ctx context.Context, client *restpipe.Client, start func(onSuccess func(T), onFailure func(error)) *restpipe.Operation) (T, error) {
	var (
		value  T
		failed error
	)
	op := start(func(v T) { value = v }, func(err error) { failed = err })

	select {
	case <-op.Done():
	case <-ctx.Done():
		client.CancelAll()
		<-op.Done()
	}
	if op.Cancelled() {
		return value, errCancelled
	}
	return value, failed
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeJSONLine writes v as a single line of JSON.
func writeJSONLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// parseParams turns repeated k=v flags into query parameters.
func parseParams(pairs []string) (restpipe.Params, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(restpipe.Params, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("parameter %q must be key=value", pair)
		}
		params[k] = v
	}
	return params, nil
}

func readJSONArg(arg string) (any, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, err
		}
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return v, nil
}
