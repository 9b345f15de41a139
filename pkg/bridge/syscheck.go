package bridge

import "fmt"

// Minimum hardware for a supported installation.
const (
	MinRAMMB    = 8192
	MinCPUCores = 4
)

// SystemSummary is the raw hardware information of the host.
type SystemSummary struct {
	TotalMemoryMB uint64 `json:"total_memory_mb"`
	TotalSwapMB   uint64 `json:"total_swap_mb"`
	CPUCores      int    `json:"cpu_cores"`
	Hostname      string `json:"hostname"`
	KernelVersion string `json:"kernel_version"`
}

// SystemCheckReport is the result of comparing a summary against the
// installation minimums.
type SystemCheckReport struct {
	Summary      SystemSummary `json:"summary"`
	IsCompatible bool          `json:"is_compatible"`
	Issues       []string      `json:"issues"`
}

// Evaluate checks summary against the minimums.
func Evaluate(summary SystemSummary) SystemCheckReport {
	issues := []string{}

	if summary.TotalMemoryMB < MinRAMMB {
		issues = append(issues, fmt.Sprintf("Insufficient RAM: %d MB found, %d MB required.", summary.TotalMemoryMB, MinRAMMB))
	}
	if summary.CPUCores < MinCPUCores {
		issues = append(issues, fmt.Sprintf("Insufficient CPU cores: %d found, %d required.", summary.CPUCores, MinCPUCores))
	}

	return SystemCheckReport{
		Summary:      summary,
		IsCompatible: len(issues) == 0,
		Issues:       issues,
	}
}
