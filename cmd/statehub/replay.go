package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/wilhg/statehub/examples/todo"
	"github.com/wilhg/statehub/pkg/store"
	"github.com/wilhg/statehub/pkg/storetest"
)

func newReplayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <capture.json>",
		Short: "Replay a captured action sequence and print the final state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			c, err := storetest.LoadCapture(args[0])
			if err != nil {
				return err
			}
			final, err := storetest.Replay(cmd.Context(), todo.Reducers(), c, store.WithLogger(logger))
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(final)
		},
	}
}
