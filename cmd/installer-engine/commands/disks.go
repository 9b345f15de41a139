package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/pipeline"
	"github.com/nixblitz/installer-engine/pkg/process"
)

var disksCmd = &cobra.Command{
	Use:   "disks",
	Short: "List candidate installation disks",
	RunE:  runDisks,
}

func init() {
	rootCmd.AddCommand(disksCmd)
}

func runDisks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	var candidates []disk.Candidate
	if cfg.Demo {
		candidates = pipeline.DemoDisks()
	} else {
		runner := process.NewElevated(process.NewExecRunner(), cfg.PrivilegeHelper)
		candidates, err = disk.NewLsblkInventory(runner).ListDisks(context.Background())
		if err != nil {
			return errors.Wrap(err, "disk enumeration failed")
		}
	}

	if len(candidates) == 0 {
		fmt.Println("No disks found")
		return nil
	}

	fmt.Printf("%-20s %-10s %-30s %-10s %s\n", "DEVICE", "SIZE", "MODEL", "REMOVABLE", "NOTE")
	fmt.Println(strings.Repeat("-", 90))

	for _, c := range candidates {
		note := ""
		if c.IsLiveSystem {
			note = "live system"
		} else if c.SizeBytes < disk.DefaultMinSizeBytes {
			note = "too small"
		}
		model := c.Model
		if model == "" {
			model = "-"
		}
		fmt.Printf("%-20s %-10s %-30s %-10t %s\n",
			c.DevicePath, humanize.Bytes(c.SizeBytes), model, c.IsRemovable, note)
	}

	return nil
}
