package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cellsim/internal/visualization"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export the stored lineage graph",
		Long: `Render the stored lineage as Graphviz DOT or JSON.

Examples:
  cellsim graph                          # DOT to stdout
  cellsim graph --format json -o lineage.json
  cellsim graph | dot -Tsvg > lineage.svg
  cellsim graph --serve localhost:8080   # serve /graph.dot and /graph.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatStr, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			serve, _ := cmd.Flags().GetString("serve")

			format, err := visualization.ParseFormat(formatStr)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			ls, err := openExistingStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer ls.Close()

			if serve != "" {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				sigCh := make(chan os.Signal, 1)
				notifySignals(sigCh)
				defer stopSignals(sigCh)
				go func() {
					select {
					case <-sigCh:
						cancel()
					case <-ctx.Done():
					}
				}()

				srv := visualization.NewServer(ls, nil, serve)
				fmt.Fprintf(cmd.ErrOrStderr(), "Serving lineage on http://%s (Ctrl+C to stop)\n", serve)
				return srv.ListenAndServe(ctx)
			}

			var data []byte
			switch format {
			case visualization.FormatJSON:
				graph, err := visualization.RenderJSON(ctx, ls)
				if err != nil {
					return fmt.Errorf("failed to render graph: %w", err)
				}
				data, err = json.MarshalIndent(graph, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to encode graph: %w", err)
				}
				data = append(data, '\n')
			default:
				dot, err := visualization.RenderDOT(ctx, ls)
				if err != nil {
					return fmt.Errorf("failed to render graph: %w", err)
				}
				data = []byte(dot)
			}

			if output != "" {
				if err := os.WriteFile(output, data, 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", output, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Graph written to %s\n", output)
				return nil
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().String("format", "dot", "Output format: dot or json")
	cmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	cmd.Flags().String("serve", "", "Serve the graph over HTTP on this address")
	addSinkFlags(cmd)

	return cmd
}
