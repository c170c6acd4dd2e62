package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cellsim/internal/store"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the stored lineage for consistency",
		Long: `Check that the stored lineage is a forest of tracks:
  - every link goes forward in time between existing spots
  - no spot has more than one parent
  - no spot has more than two children

Exits non-zero when issues are found.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx := cmd.Context()

			ls, err := openExistingStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer ls.Close()

			issues, err := store.ValidateLineage(ctx, ls)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			if jsonOut {
				result := map[string]interface{}{
					"valid":       len(issues) == 0,
					"error_count": len(issues),
					"errors":      issues,
				}
				if len(issues) == 0 {
					result["message"] = "Lineage is valid"
					result["errors"] = []store.ValidationError{}
				}
				if err := json.NewEncoder(cmd.OutOrStdout()).Encode(result); err != nil {
					return err
				}
			} else {
				printValidation(cmd.OutOrStdout(), issues)
			}

			if len(issues) > 0 {
				return fmt.Errorf("lineage has %d issue(s)", len(issues))
			}
			return nil
		},
	}

	addSinkFlags(cmd)
	return cmd
}
