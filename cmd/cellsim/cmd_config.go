package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/store"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the cellsim configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigInitCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after merging defaults, the config file and
environment variables. The Redis password is redacted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if jsonOut {
				out := *cfg
				if out.Sink.RedisPassword != "" {
					out.Sink.RedisPassword = "(set)"
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
			}

			data, err := cfg.Marshal()
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("path")
			force, _ := cmd.Flags().GetBool("force")

			if path == "" {
				if err := store.EnsureGlobalCellsimDir(); err != nil {
					return fmt.Errorf("failed to create config directory: %w", err)
				}
				dir, err := store.GlobalCellsimPath()
				if err != nil {
					return err
				}
				path = filepath.Join(dir, "config.yaml")
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			data, err := config.Default().Marshal()
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			if err := os.WriteFile(path, data, 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			green.Fprintf(cmd.OutOrStdout(), "✓ Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().String("path", "", "Config file to write (default ~/.cellsim/config.yaml)")
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}
