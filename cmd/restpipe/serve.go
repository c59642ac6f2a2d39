package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/restpipe/internal/domain"
	"github.com/tjfontaine/restpipe/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		addr  string
		seeds []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo resource server",
		Long: `Serve an in-memory JSON resource server that speaks every paging style and
token sessions restpipe understands. Settings come from the server section of
the configuration.`,
		Args: cobra.NoArgs,
	}
	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	flags.StringArrayVar(&seeds, "seed", nil, "collection=<json|@file> records to preload (repeatable)")

	cmd.RunE = a.run(func(cmd *cobra.Command, _ []string) error {
		sc := a.cfg.Server
		if addr == "" {
			addr = sc.Addr
		}

		srv := server.New(server.Config{
			PageSize:    sc.PageSize,
			TokenHeader: sc.TokenHeader,
			TokenInBody: sc.TokenInBody,
			Users:       sc.Users,
			Protected:   sc.Protected,
			Latency:     sc.Latency,
		}, a.logger)

		for _, seed := range seeds {
			if err := seedCollection(srv, seed); err != nil {
				return err
			}
		}

		httpServer := &http.Server{
			Addr:              addr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("starting server", slog.String("addr", addr))
			errCh <- httpServer.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-cmd.Context().Done():
		}

		a.logger.Info("shutdown signal received, stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return cmd
}

func seedCollection(srv *server.Server, seed string) error {
	collection, data, ok := strings.Cut(seed, "=")
	if !ok || collection == "" {
		return fmt.Errorf("--seed %q must be collection=<json|@file>", seed)
	}
	v, err := readJSONArg(data)
	if err != nil {
		return fmt.Errorf("seed %s: %w", collection, err)
	}

	var records []domain.Record
	switch v := v.(type) {
	case map[string]any:
		records = append(records, v)
	case []any:
		for _, item := range v {
			r, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("seed %s: every record must be a JSON object", collection)
			}
			records = append(records, r)
		}
	default:
		return fmt.Errorf("seed %s: expected an object or an array of objects", collection)
	}
	return srv.Seed(collection, records...)
}
