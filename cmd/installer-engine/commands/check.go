package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/errors"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether this system meets the installation requirements",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(os.Stderr); err != nil {
		return err
	}

	summary, err := bridge.ProbeSystem()
	if err != nil {
		return errors.Wrap(err, "system probe failed")
	}
	report := bridge.Evaluate(summary)

	fmt.Printf("Hostname:   %s\n", summary.Hostname)
	fmt.Printf("Kernel:     %s\n", summary.KernelVersion)
	fmt.Printf("CPU cores:  %d (min %d)\n", summary.CPUCores, bridge.MinCPUCores)
	fmt.Printf("Memory:     %d MB (min %d MB)\n", summary.TotalMemoryMB, bridge.MinRAMMB)
	fmt.Printf("Swap:       %d MB\n", summary.TotalSwapMB)

	if report.IsCompatible {
		fmt.Println("✅ System is compatible")
		return nil
	}

	for _, issue := range report.Issues {
		fmt.Printf("⚠️  %s\n", issue)
	}
	return fmt.Errorf("system does not meet the requirements")
}
