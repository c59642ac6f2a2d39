package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/restpipe/pkg/restpipe"
)

func newEnrollCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll <auth-module> <json|@file>",
		Short: "Register a new user through an auth module",
		Args:  cobra.ExactArgs(2),
	}

	cmd.RunE = a.run(func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		module, ok := a.client.AuthModule(args[0])
		if !ok {
			return fmt.Errorf("unknown auth module %q", args[0])
		}
		user, err := readRecord(args[1])
		if err != nil {
			return err
		}

		enrolled, err := call(ctx, a.client, func(onSuccess func(any), onFailure func(error)) *restpipe.Operation {
			return module.Enroll(ctx, user, onSuccess, onFailure)
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), enrolled)
	})
	return cmd
}
