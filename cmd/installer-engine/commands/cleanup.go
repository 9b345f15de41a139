package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nixblitz/installer-engine/pkg/db"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/storage"
)

var (
	cleanupOlderThan time.Duration
	cleanupAttempt   string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove recorded attempts and their archived logs",
	Long: `Remove attempt history:
  --older-than <duration>   Remove finished attempts older than the duration
  --attempt <id>            Remove one attempt`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 0, "Remove finished attempts older than this")
	cleanupCmd.Flags().StringVar(&cleanupAttempt, "attempt", "", "Remove a specific attempt")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	ctx := context.Background()
	archive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}

	switch {
	case cleanupAttempt != "":
		return cleanupOne(ctx, repo, archive, cleanupAttempt)
	case cleanupOlderThan > 0:
		return cleanupOlder(ctx, repo, archive, cleanupOlderThan)
	default:
		return fmt.Errorf("must specify --older-than or --attempt")
	}
}

func cleanupOne(ctx context.Context, repo *db.Repository, archive *storage.Client, attemptID string) error {
	a, err := repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return errors.Wrap(err, "query failed")
	}
	if a == nil {
		return fmt.Errorf("attempt %s not found", attemptID)
	}

	fmt.Printf("🧹 Cleaning up %s...\n", attemptID)
	removeArchived(ctx, archive, a)
	if err := repo.DeleteAttempt(ctx, attemptID); err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	fmt.Printf("✅ Cleaned: %s\n", attemptID)
	return nil
}

func cleanupOlder(ctx context.Context, repo *db.Repository, archive *storage.Client, age time.Duration) error {
	removed, err := repo.DeleteOlderThan(ctx, time.Now().Add(-age))
	if err != nil {
		return errors.Wrap(err, "cleanup failed")
	}

	for _, a := range removed {
		removeArchived(ctx, archive, a)
		fmt.Printf("✅ Cleaned: %s\n", a.AttemptID)
	}

	fmt.Printf("Removed %d attempts\n", len(removed))
	return nil
}

// removeArchived deletes an attempt's uploaded log. Failures only warn.
func removeArchived(ctx context.Context, archive *storage.Client, a *db.Attempt) {
	if archive == nil || a.ArchiveKey == "" {
		return
	}
	if err := archive.Delete(ctx, a.ArchiveKey); err != nil {
		fmt.Printf("⚠️  Archive cleanup warning: %v\n", err)
	}
}
