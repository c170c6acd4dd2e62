package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cellsim/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the runs recorded in the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx := cmd.Context()

			ls, err := openExistingStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer ls.Close()

			runs, err := ls.Runs(ctx)
			if err != nil {
				return fmt.Errorf("failed to list runs: %w", err)
			}

			if jsonOut {
				if runs == nil {
					runs = []store.Run{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"runs":  runs,
					"count": len(runs),
				})
			}
			printRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}

	addSinkFlags(cmd)
	return cmd
}
