// Package main provides the vecdbcore CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/orneryd/vecdbcore/archive"
	"github.com/orneryd/vecdbcore/migration"
	"github.com/orneryd/vecdbcore/snapshot"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "vecdb",
		Short: "vecdbcore - embeddable vector database storage tools",
		Long: `vecdb manages the on-disk .vecdb/.vecidx archive format: compacting
a collections directory into an archive, migrating legacy flat-file
stores into it, and taking/restoring point-in-time snapshots.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vecdb v%s\n", version)
		},
	})

	rootCmd.AddCommand(newCompactCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSnapshotCmd())
	rootCmd.AddCommand(newVerifyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newCompactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact <collections-dir>",
		Short: "Compact a collections directory into a .vecdb/.vecidx archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			level, _ := cmd.Flags().GetInt("compression-level")

			fmt.Printf("📦 Compacting %s into %s\n", args[0], dataDir)
			w := archive.NewWriter(dataDir, archive.WriteOptions{CompressionLevel: level})
			manifest, err := w.WriteArchive(args[0])
			if err != nil {
				return fmt.Errorf("compacting archive: %w", err)
			}
			fmt.Printf("✅ Compacted %d collections, %d vectors\n", manifest.CollectionCount(), manifest.TotalVectors)
			fmt.Printf("   Compression ratio: %.1f%%\n", manifest.CompressionRatio()*100)
			return nil
		},
	}
	cmd.Flags().String("data-dir", "./data", "Directory to write the archive into")
	cmd.Flags().Int("compression-level", 3, "zstd compression level, 0 disables compression")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate a legacy flat-file data directory to the archive format",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			level, _ := cmd.Flags().GetInt("compression-level")

			m := migration.New(dataDir, level)
			if !m.NeedsMigration() {
				fmt.Println("✅ Already using archive format, no migration needed")
				return nil
			}

			fmt.Println("🔄 Starting migration to archive format...")
			result, err := m.Migrate()
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("✅ %s\n", result.Message)
			if result.BackupPath != "" {
				fmt.Printf("ℹ️  Backup saved to: %s\n", result.BackupPath)
			}
			return nil
		},
	}
	runCmd.Flags().String("data-dir", "./data", "Data directory to migrate")
	runCmd.Flags().Int("compression-level", 3, "zstd compression level, 0 disables compression")
	cmd.AddCommand(runCmd)

	rollbackCmd := &cobra.Command{
		Use:   "rollback <backup-path>",
		Short: "Roll back a migration from its backup directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			m := migration.New(dataDir, 0)
			fmt.Println("🔙 Rolling back migration...")
			if err := m.Rollback(args[0]); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			fmt.Println("✅ Rollback complete")
			return nil
		},
	}
	rollbackCmd.Flags().String("data-dir", "./data", "Data directory to roll back")
	cmd.AddCommand(rollbackCmd)

	return cmd
}

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list, restore, and delete archive snapshots",
	}

	var newManager = func(c *cobra.Command) *snapshot.Manager {
		dataDir, _ := c.Flags().GetString("data-dir")
		snapshotsDir, _ := c.Flags().GetString("snapshots-dir")
		maxSnapshots, _ := c.Flags().GetInt("max-snapshots")
		retentionDays, _ := c.Flags().GetInt("retention-days")
		return snapshot.New(snapshot.Config{
			DataDir:       dataDir,
			SnapshotsDir:  snapshotsDir,
			MaxSnapshots:  maxSnapshots,
			RetentionDays: retentionDays,
		})
	}

	addCommonFlags := func(c *cobra.Command) {
		c.Flags().String("data-dir", "./data", "Data directory holding the live archive")
		c.Flags().String("snapshots-dir", "./data/snapshots", "Directory to store snapshots in")
		c.Flags().Int("max-snapshots", 48, "Maximum snapshots to retain")
		c.Flags().Int("retention-days", 2, "Maximum snapshot age, in days")
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newManager(cmd)
			info, err := m.CreateSnapshot()
			if err != nil {
				return fmt.Errorf("creating snapshot: %w", err)
			}
			fmt.Printf("✅ Snapshot created: %s (%.2f MB)\n", info.ID, info.SizeMB())
			return nil
		},
	}
	addCommonFlags(createCmd)
	cmd.AddCommand(createCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newManager(cmd)
			snapshots, err := m.ListSnapshots()
			if err != nil {
				return fmt.Errorf("listing snapshots: %w", err)
			}
			if len(snapshots) == 0 {
				fmt.Println("No snapshots found")
				return nil
			}
			for _, s := range snapshots {
				fmt.Printf("%s  %.2f MB  %dh old\n", s.ID, s.SizeMB(), s.AgeHours())
			}
			return nil
		},
	}
	addCommonFlags(listCmd)
	cmd.AddCommand(listCmd)

	restoreCmd := &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "Restore the archive from a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newManager(cmd)
			fmt.Printf("🔄 Restoring from snapshot: %s\n", args[0])
			if err := m.RestoreSnapshot(args[0]); err != nil {
				return fmt.Errorf("restoring snapshot: %w", err)
			}
			fmt.Println("✅ Snapshot restored successfully")
			return nil
		},
	}
	addCommonFlags(restoreCmd)
	cmd.AddCommand(restoreCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete <snapshot-id>",
		Short: "Delete a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := newManager(cmd)
			ok, err := m.DeleteSnapshot(args[0])
			if err != nil {
				return fmt.Errorf("deleting snapshot: %w", err)
			}
			if !ok {
				fmt.Printf("No such snapshot: %s\n", args[0])
				return nil
			}
			fmt.Printf("🗑️  Deleted snapshot: %s\n", args[0])
			return nil
		},
	}
	addCommonFlags(deleteCmd)
	cmd.AddCommand(deleteCmd)

	return cmd
}

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify every blob's checksum against the archive manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")

			r, err := archive.OpenReader(dataDir, "")
			if err != nil {
				return fmt.Errorf("opening archive: %w", err)
			}
			defer r.Close()

			if err := r.VerifyIntegrity(); err != nil {
				return fmt.Errorf("integrity check failed: %w", err)
			}
			fmt.Printf("✅ Archive verified: %d collections, %d vectors\n",
				r.Manifest().CollectionCount(), r.Manifest().TotalVectors)
			return nil
		},
	}
	cmd.Flags().String("data-dir", "./data", "Data directory holding the archive")
	return cmd
}
