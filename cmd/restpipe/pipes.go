package main

import (
	"fmt"
	"maps"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/restpipe/pkg/restpipe"
)

func newReadCommand(a *app) *cobra.Command {
	var params []string

	cmd := &cobra.Command{
		Use:   "read <pipe>",
		Short: "Read a collection",
		Long: `Read a collection through a pipe and print its records as JSON.
Without --param the collection is requested with no query parameters.`,
		Args: cobra.ExactArgs(1),
	}
	cmd.Flags().StringArrayVar(&params, "param", nil, "query parameter key=value (repeatable)")

	cmd.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := a.pipe(args[0])
		if err != nil {
			return err
		}
		query, err := parseParams(params)
		if err != nil {
			return err
		}

		logout, err := a.authenticate(ctx, args[0])
		if err != nil {
			return err
		}
		defer logout()

		rs, err := call(ctx, a.client, func(onSuccess func(*restpipe.ResultSet), onFailure func(error)) *restpipe.Operation {
			if query == nil {
				return p.Read(ctx, onSuccess, onFailure)
			}
			return p.ReadWithParams(ctx, query, onSuccess, onFailure)
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), rs.Records())
	})
	return cmd
}

func newReadOneCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read-one <pipe> <id>",
		Short: "Read one record by id",
		Args:  cobra.ExactArgs(2),
	}

	cmd.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := a.pipe(args[0])
		if err != nil {
			return err
		}

		logout, err := a.authenticate(ctx, args[0])
		if err != nil {
			return err
		}
		defer logout()

		record, err := call(ctx, a.client, func(onSuccess func(any), onFailure func(error)) *restpipe.Operation {
			return p.ReadOne(ctx, args[1], onSuccess, onFailure)
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), record)
	})
	return cmd
}

func newPageCommand(a *app) *cobra.Command {
	var (
		params    []string
		pages     int
		backwards bool
		storeName string
	)

	cmd := &cobra.Command{
		Use:   "page <pipe>",
		Short: "Walk a paged collection",
		Long: `Read the first page with the pipe's parameter provider (merged with any
--param values) and follow next links, printing one JSON line per page.
With --store each page's records are also saved into a configured store.`,
		Args: cobra.ExactArgs(1),
	}
	flags := cmd.Flags()
	flags.StringArrayVar(&params, "param", nil, "query parameter key=value (repeatable)")
	flags.IntVar(&pages, "pages", 1, "number of pages to read")
	flags.BoolVar(&backwards, "backwards", false, "follow previous links instead of next")
	flags.StringVar(&storeName, "store", "", "save records into this store")

	cmd.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if pages < 1 {
			return fmt.Errorf("--pages must be at least 1")
		}
		p, err := a.pipe(args[0])
		if err != nil {
			return err
		}
		query, err := parseParams(params)
		if err != nil {
			return err
		}

		var sink restpipe.Store
		if storeName != "" {
			s, ok := a.client.Store(storeName)
			if !ok {
				return fmt.Errorf("unknown store %q", storeName)
			}
			sink = s
		}

		logout, err := a.authenticate(ctx, args[0])
		if err != nil {
			return err
		}
		defer logout()

		var first restpipe.Params
		if query != nil {
			first = restpipe.Params{}
			if pipeCfg, ok := p.(interface{ Config() restpipe.PipeConfig }); ok {
				first = maps.Clone(pipeCfg.Config().ParameterProvider)
			}
			maps.Copy(first, query)
		}

		rs, err := call(ctx, a.client, func(onSuccess func(*restpipe.ResultSet), onFailure func(error)) *restpipe.Operation {
			return p.ReadWithParams(ctx, first, onSuccess, onFailure)
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i := 0; ; i++ {
			records := rs.Records()
			if err := writeJSONLine(out, records); err != nil {
				return err
			}
			if sink != nil && len(records) > 0 {
				if _, err := sink.Save(ctx, records); err != nil {
					return fmt.Errorf("store %q: %w", storeName, err)
				}
			}

			more := rs.HasNext()
			if backwards {
				more = rs.HasPrevious()
			}
			if i+1 >= pages || !more {
				break
			}

			_, err := call(ctx, a.client, func(onSuccess func(*restpipe.ResultSet), onFailure func(error)) *restpipe.Operation {
				if backwards {
					return rs.Previous(ctx, onSuccess, onFailure)
				}
				return rs.Next(ctx, onSuccess, onFailure)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return cmd
}

func newSaveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <pipe> <json|@file>",
		Short: "Create or update a record",
		Long: `Save a JSON object through a pipe. A record carrying the pipe's id field is
updated with PUT; otherwise it is created with POST.`,
		Args: cobra.ExactArgs(2),
	}

	cmd.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := a.pipe(args[0])
		if err != nil {
			return err
		}
		record, err := readRecord(args[1])
		if err != nil {
			return err
		}

		logout, err := a.authenticate(ctx, args[0])
		if err != nil {
			return err
		}
		defer logout()

		saved, err := call(ctx, a.client, func(onSuccess func(any), onFailure func(error)) *restpipe.Operation {
			return p.Save(ctx, record, onSuccess, onFailure)
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), saved)
	})
	return cmd
}

func newRemoveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <pipe> <id>",
		Short: "Delete a record by id",
		Args:  cobra.ExactArgs(2),
	}

	cmd.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := a.pipe(args[0])
		if err != nil {
			return err
		}
		idField := "id"
		if pipeCfg, ok := p.(interface{ Config() restpipe.PipeConfig }); ok {
			idField = pipeCfg.Config().RecordID
		}

		logout, err := a.authenticate(ctx, args[0])
		if err != nil {
			return err
		}
		defer logout()

		_, err = call(ctx, a.client, func(onSuccess func(any), onFailure func(error)) *restpipe.Operation {
			return p.Remove(ctx, restpipe.Record{idField: args[1]}, onSuccess, onFailure)
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s/%s\n", args[0], args[1])
		return nil
	})
	return cmd
}

func readRecord(arg string) (restpipe.Record, error) {
	v, err := readJSONArg(arg)
	if err != nil {
		return nil, err
	}
	record, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("record must be a JSON object")
	}
	return record, nil
}
