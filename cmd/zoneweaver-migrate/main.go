package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zoneweaver-migrate",
	Short: "Bring a zoneweaverd database up to the current schema",
	Long: `zoneweaver-migrate runs the agent's idempotent schema migration
against a SQLite database file and prints every action taken.

The agent runs the same migration on every startup, so this tool is only
needed to upgrade a database offline, to preview a schema change with
--dry-run, or to prepare a database for an agent that runs without write
access to its own schema.

Unless --dry-run is given, the database file is copied aside first; pass
--backup to choose where.`,
	Version: Version,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString("db")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backupPath, _ := cmd.Flags().GetString("backup")

		if _, err := os.Stat(dbPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("database not found at %s (zoneweaverd creates it on first start)", dbPath)
			}
			return err
		}

		if !dryRun {
			if backupPath == "" {
				backupPath = dbPath + ".backup"
			}
			if err := copyFile(dbPath, backupPath); err != nil {
				return fmt.Errorf("failed to back up database: %w", err)
			}
			fmt.Printf("Backed up %s to %s\n", dbPath, backupPath)
		}

		st, err := storage.Open(dbPath, 5000)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer st.Close()

		applied, err := st.Migrate(context.Background(), dryRun)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		if dryRun {
			fmt.Printf("Dry run: %d statements would be executed\n", len(applied))
		} else {
			fmt.Printf("Executed %d statements\n", len(applied))
		}
		for _, stmt := range applied {
			fmt.Printf("  %s\n", stmt)
		}
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"zoneweaver-migrate version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.Flags().String("db", "/var/lib/zoneweaver/zoneweaver.db", "SQLite database to migrate")
	rootCmd.Flags().Bool("dry-run", false, "Print the statements without executing them")
	rootCmd.Flags().String("backup", "", "Backup file path (default <db>.backup)")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
