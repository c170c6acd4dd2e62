package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/cellsim/internal/backup"
	"github.com/nvandessel/cellsim/internal/config"
	"github.com/nvandessel/cellsim/internal/store"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the stored lineage to a file",
		Long: `Write every spot, link and run record of the selected store to a
compressed archive that any store can restore.

Default location: ~/.cellsim/backups/cellsim-backup-YYYYMMDD-HHMMSS.json.gz
Older archives are pruned according to backup.retention (default: last 10).

Examples:
  cellsim backup                                   # SQLite store in --root
  cellsim backup --sink redis --namespace exp1     # one Redis lineage
  cellsim backup --output lineage.json.gz
  cellsim backup list
  cellsim backup verify <file>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outputPath, _ := cmd.Flags().GetString("output")
			ctx := cmd.Context()

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applySinkFlags(cmd, cfg)

			auto := outputPath == ""
			if auto {
				dir, err := backup.DefaultBackupDir()
				if err != nil {
					return fmt.Errorf("failed to get backup directory: %w", err)
				}
				outputPath = backup.GenerateBackupPath(dir)
			}

			ls, err := openExistingStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer ls.Close()

			meta := map[string]string{"sink": cfg.Sink.Type}
			if rs, ok := ls.(*store.RedisLineageStore); ok {
				meta["namespace"] = rs.Namespace()
			}

			header, err := backup.Backup(ctx, ls, outputPath, meta)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			var pruned []string
			if auto {
				pruned, err = backup.ApplyRetention(filepath.Dir(outputPath), retentionPolicy(cfg))
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to apply retention: %v\n", err)
				}
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"path":   outputPath,
					"header": header,
					"pruned": len(pruned),
				})
			}
			green.Fprintf(cmd.OutOrStdout(), "✓ Backup created: %d spots, %d links, %d runs (t=%d..%d)\n",
				header.SpotCount, header.LinkCount, header.RunCount, header.From, header.To)
			fmt.Fprintf(cmd.OutOrStdout(), "  Path: %s\n", outputPath)
			if len(pruned) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  Pruned %d old backup(s)\n", len(pruned))
			}
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "", "Output file path (default: auto-generated in ~/.cellsim/backups/)")
	addSinkFlags(cmd)

	cmd.AddCommand(newBackupListCmd(), newBackupVerifyCmd())
	return cmd
}

// retentionPolicy builds the retention policy configured in cfg.Backup.
func retentionPolicy(cfg *config.Config) backup.RetentionPolicy {
	r := cfg.Backup.Retention
	var policies backup.AnyPolicy
	if r.MaxCount > 0 {
		policies = append(policies, backup.CountPolicy{MaxCount: r.MaxCount})
	}
	if r.MaxAge != "" {
		if d, err := backup.ParseDuration(r.MaxAge); err == nil {
			policies = append(policies, backup.AgePolicy{MaxAge: d})
		}
	}
	if len(policies) == 0 {
		// no rule configured: keep everything
		return backup.CountPolicy{MaxCount: int(^uint(0) >> 1)}
	}
	return policies
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archives in the backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			dir, err := backup.DefaultBackupDir()
			if err != nil {
				return fmt.Errorf("failed to get backup directory: %w", err)
			}
			backups, err := backup.ListBackups(dir)
			if err != nil {
				return err
			}

			if jsonOut {
				if backups == nil {
					backups = []backup.BackupInfo{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"backups": backups,
					"count":   len(backups),
				})
			}

			if len(backups) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No backups in %s\n", dir)
				return nil
			}
			for _, b := range backups {
				cyan.Fprintf(cmd.OutOrStdout(), "%s", filepath.Base(b.Path))
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  %d spots  %d KB\n",
					b.CreatedAt.Local().Format(time.DateTime), b.SpotCount, (b.Size+1023)/1024)
			}
			return nil
		},
	}
}

func newBackupVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Check the integrity of an archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			header, err := backup.Verify(args[0])
			if jsonOut {
				result := map[string]interface{}{"path": args[0], "valid": err == nil}
				if err != nil {
					result["error"] = err.Error()
				} else {
					result["header"] = header
				}
				if encErr := json.NewEncoder(cmd.OutOrStdout()).Encode(result); encErr != nil {
					return encErr
				}
				return err
			}
			if err != nil {
				red.Fprintf(cmd.OutOrStdout(), "✗ %s: %v\n", args[0], err)
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "✓ %s is intact (%d spots, %d links)\n", args[0], header.SpotCount, header.LinkCount)
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore an archive into the selected store",
		Long: `Read an archive written by 'cellsim backup' into the selected store.
Spots get new IDs, so the archive can be added to a store that already
holds other lineages.

Examples:
  cellsim restore lineage.json.gz --root ./copy
  cellsim restore lineage.json.gz --sink redis --namespace restored`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			ctx := cmd.Context()

			ls, err := openExistingStore(ctx, cmd)
			if err != nil {
				return err
			}
			defer ls.Close()

			result, err := backup.Restore(ctx, ls, args[0])
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
			}
			green.Fprintf(cmd.OutOrStdout(), "✓ Restored %d spots, %d links, %d runs\n",
				result.SpotsRestored, result.LinksRestored, result.RunsRestored)
			return nil
		},
	}

	addSinkFlags(cmd)
	return cmd
}
