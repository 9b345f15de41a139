// Package pipeline executes the ordered provisioning steps of an install
// attempt and reports one final result per step.
package pipeline

import "time"

// Kind identifies what a step does.
type Kind string

const (
	KindCheckDependencies Kind = "check_dependencies"
	KindBuildSystem       Kind = "build_system"
	KindPartitionDisk     Kind = "partition_disk"
	KindMountFilesystems  Kind = "mount_filesystems"
	KindCopySystem        Kind = "copy_system"
	KindInstallBootloader Kind = "install_bootloader"
	KindPostInstall       Kind = "post_install"
)

// TouchesDisk reports whether a step at or after this kind modifies the target disk.
func (k Kind) TouchesDisk() bool {
	switch k {
	case KindCheckDependencies, KindBuildSystem:
		return false
	}
	return true
}

// Step is an immutable step descriptor.
type Step struct {
	ID          string        `json:"id"`
	Ordinal     int           `json:"ordinal"`
	DisplayName string        `json:"display_name"`
	Kind        Kind          `json:"kind"`
	Timeout     time.Duration `json:"timeout"`
	Retryable   bool          `json:"retryable"`
}

// Default step timeouts.
const (
	DefaultQuickTimeout = 2 * time.Minute
	DefaultBuildTimeout = 2 * time.Hour
	DefaultCopyTimeout  = time.Hour
)

// DefaultSteps returns the installation steps in execution order.
func DefaultSteps() []Step {
	steps := []Step{
		{ID: "deps", DisplayName: "Check dependencies", Kind: KindCheckDependencies, Timeout: DefaultQuickTimeout, Retryable: true},
		{ID: "build", DisplayName: "Build system", Kind: KindBuildSystem, Timeout: DefaultBuildTimeout, Retryable: true},
		{ID: "partition", DisplayName: "Partition disk", Kind: KindPartitionDisk, Timeout: 10 * time.Minute},
		{ID: "mount", DisplayName: "Mount filesystems", Kind: KindMountFilesystems, Timeout: DefaultQuickTimeout},
		{ID: "copy", DisplayName: "Copy system", Kind: KindCopySystem, Timeout: DefaultCopyTimeout, Retryable: true},
		{ID: "bootloader", DisplayName: "Install bootloader", Kind: KindInstallBootloader, Timeout: 10 * time.Minute},
		{ID: "post_install", DisplayName: "Post-install tasks", Kind: KindPostInstall, Timeout: 10 * time.Minute, Retryable: true},
	}
	for i := range steps {
		steps[i].Ordinal = i
	}
	return steps
}

// IndexOf returns the ordinal of the first step of kind, or -1.
func IndexOf(steps []Step, kind Kind) int {
	for _, s := range steps {
		if s.Kind == kind {
			return s.Ordinal
		}
	}
	return -1
}
