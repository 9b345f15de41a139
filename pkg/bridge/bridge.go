// Package bridge talks to the declarative configuration system: it renders
// the install selection, builds the system closure, copies it onto the target
// and activates it.
package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/nixblitz/installer-engine/pkg/process"
)

// Selection is what the user chose for this installation.
type Selection struct {
	DevicePath string
	Hostname   string
}

// BuildArtifact is a built system closure ready to be copied.
type BuildArtifact struct {
	ConfigName string `json:"config_name"`
	StorePath  string `json:"store_path"`
}

// SwitchResult describes an activation that completed. ServicesHealthy is
// false when activation finished but one or more units failed to start.
type SwitchResult struct {
	ServicesHealthy bool     `json:"services_healthy"`
	FailedUnits     []string `json:"failed_units,omitempty"`
	Log             []string `json:"log,omitempty"`
}

// BuildError is returned when the configuration fails to build.
type BuildError struct {
	Log []string
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("system build failed: %v", e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// SwitchError is returned when the activation command itself fails.
type SwitchError struct {
	ExitCode int
	Log      []string
	Err      error
}

func (e *SwitchError) Error() string {
	return fmt.Sprintf("system switch failed with status %d: %v", e.ExitCode, e.Err)
}

func (e *SwitchError) Unwrap() error {
	return e.Err
}

// Bridge is the narrow interface to the configuration system.
type Bridge interface {
	// Render writes the selection into a configuration document
	Render(ctx context.Context, sel Selection) (*ConfigDocument, error)

	// Check inspects the host hardware
	Check(ctx context.Context) (*SystemCheckReport, error)

	// Build produces the system closure for doc
	Build(ctx context.Context, doc *ConfigDocument, out process.LineFunc) (*BuildArtifact, error)

	// Copy installs the closure below root
	Copy(ctx context.Context, artifact *BuildArtifact, root string, out process.LineFunc) error

	// Switch activates the closure installed below root
	Switch(ctx context.Context, artifact *BuildArtifact, root string, out process.LineFunc) (*SwitchResult, error)

	// CopyConfig places the configuration work directory on the target
	CopyConfig(ctx context.Context, root string, out process.LineFunc) error
}

// Committer records configuration changes in version control.
type Committer interface {
	Commit(ctx context.Context, message string) error
}

const failedUnitsMarker = "the following units failed:"

// ParseFailedUnits collects unit names from activation output.
func ParseFailedUnits(lines []string) []string {
	var units []string
	seen := make(map[string]struct{})
	for _, line := range lines {
		idx := strings.Index(line, failedUnitsMarker)
		if idx < 0 {
			continue
		}
		rest := line[idx+len(failedUnitsMarker):]
		for _, f := range strings.FieldsFunc(rest, func(r rune) bool { return r == ',' || r == ' ' }) {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			units = append(units, f)
		}
	}
	return units
}
