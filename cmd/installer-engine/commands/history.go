package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nixblitz/installer-engine/pkg/db"
	"github.com/nixblitz/installer-engine/pkg/errors"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [attempt-id]",
	Short: "List install attempts, or show the steps of one attempt",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum attempts to list (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	// Ensure database directory exists
	if err := ensureDirectories(cfg.SQLitePath, "", ""); err != nil {
		return err
	}

	repo, err := db.NewRepository(cfg.SQLitePath)
	if err != nil {
		return errors.Wrap(err, "db init failed")
	}
	defer repo.Close()

	ctx := context.Background()
	if len(args) == 1 {
		return showAttempt(ctx, repo, args[0])
	}

	attempts, err := repo.ListAttempts(ctx, historyLimit)
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(attempts) == 0 {
		fmt.Println("No attempts found")
		return nil
	}

	fmt.Printf("%-38s %-10s %-6s %-16s %-22s %s\n", "ATTEMPT", "STATUS", "DEMO", "DEVICE", "FINISHED", "ERROR")
	fmt.Println(strings.Repeat("-", 120))

	for _, a := range attempts {
		fmt.Printf("%-38s %-10s %-6t %-16s %-22s %s\n",
			a.AttemptID, a.Status, a.Demo, orDash(a.DevicePath), orDash(a.FinishedAt), orDash(a.ErrorCode))
	}

	return nil
}

func showAttempt(ctx context.Context, repo *db.Repository, attemptID string) error {
	a, err := repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return errors.Wrap(err, "query failed")
	}
	if a == nil {
		return fmt.Errorf("attempt %s not found", attemptID)
	}

	fmt.Printf("Attempt:   %s\n", a.AttemptID)
	fmt.Printf("Status:    %s\n", a.Status)
	fmt.Printf("Device:    %s\n", orDash(a.DevicePath))
	fmt.Printf("Started:   %s\n", orDash(a.StartedAt))
	fmt.Printf("Finished:  %s\n", orDash(a.FinishedAt))
	if a.ErrorCode != "" {
		fmt.Printf("Error:     %s (%s): %s\n", a.ErrorCode, a.ErrorKind, a.ErrorMessage)
	}
	if len(a.FailedUnits) > 0 {
		fmt.Printf("Failed units: %s\n", strings.Join(a.FailedUnits, ", "))
	}
	if a.ArchiveKey != "" {
		fmt.Printf("Archive:   %s\n", a.ArchiveKey)
	}
	fmt.Println()

	steps, err := repo.ListStepResults(ctx, attemptID)
	if err != nil {
		return errors.Wrap(err, "step query failed")
	}
	for _, s := range steps {
		fmt.Printf("%d. %-14s %-10s attempts=%d %s\n", s.Ordinal+1, s.StepID, s.Outcome, s.Attempts, s.ErrorCode)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
