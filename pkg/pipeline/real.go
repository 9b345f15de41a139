package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/process"
)

// RequiredTools are looked up by the dependency check step.
var RequiredTools = []string{
	"nix", "nixos-install", "nixos-enter", "lsblk", "blockdev", "wipefs",
	"sgdisk", "partprobe", "mkfs.vfat", "mkfs.ext4", "mount", "umount", "rsync", "chown",
}

// RealExecutor performs steps against the host through the bridge and disk tools.
type RealExecutor struct {
	Inventory   disk.Inventory
	Partitioner disk.Partitioner
	Bridge      bridge.Bridge
	Scheme      disk.Scheme
	Root        string
	Tools       []string
	LookPath    func(string) (string, error)
}

// NewRealExecutor wires the host collaborators.
func NewRealExecutor(inv disk.Inventory, part disk.Partitioner, br bridge.Bridge, scheme disk.Scheme, root string) *RealExecutor {
	return &RealExecutor{
		Inventory:   inv,
		Partitioner: part,
		Bridge:      br,
		Scheme:      scheme,
		Root:        root,
		Tools:       RequiredTools,
		LookPath:    exec.LookPath,
	}
}

func (r *RealExecutor) Probe(ctx context.Context) (*Probe, error) {
	report, err := r.Bridge.Check(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "system check failed")
	}
	disks, err := r.Inventory.ListDisks(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "disk enumeration failed")
	}
	return &Probe{Candidates: disks, Report: *report}, nil
}

// SystemSummary reads the current hardware figures through the bridge.
func (r *RealExecutor) SystemSummary(ctx context.Context) (bridge.SystemSummary, error) {
	report, err := r.Bridge.Check(ctx)
	if err != nil {
		return bridge.SystemSummary{}, errors.Wrap(err, "system summary failed")
	}
	return report.Summary, nil
}

func (r *RealExecutor) Execute(ctx context.Context, step Step, job *Job, out process.LineFunc) error {
	root := job.Root
	if root == "" {
		root = r.Root
	}
	device := job.Selection.DevicePath

	switch step.Kind {
	case KindCheckDependencies:
		return r.checkDependencies(step, out)

	case KindBuildSystem:
		doc, err := r.Bridge.Render(ctx, job.Selection)
		if err != nil {
			return err
		}
		job.Document = doc
		artifact, err := r.Bridge.Build(ctx, doc, out)
		if err != nil {
			return err
		}
		job.Artifact = artifact
		return nil

	case KindPartitionDisk:
		return r.Partitioner.PartitionAndFormat(ctx, device, r.Scheme, out)

	case KindMountFilesystems:
		return r.Partitioner.Mount(ctx, device, r.Scheme, root, out)

	case KindCopySystem:
		if job.Artifact == nil {
			return &StepError{Kind: ExternalToolFailed, Step: step.Kind, Err: errors.New("no build artifact")}
		}
		return r.Bridge.Copy(ctx, job.Artifact, root, out)

	case KindInstallBootloader:
		if job.Artifact == nil {
			return &StepError{Kind: ExternalToolFailed, Step: step.Kind, Err: errors.New("no build artifact")}
		}
		res, err := r.Bridge.Switch(ctx, job.Artifact, root, out)
		if err != nil {
			return err
		}
		job.Switch = res
		return nil

	case KindPostInstall:
		if err := r.Bridge.CopyConfig(ctx, root, out); err != nil {
			return err
		}
		return r.Partitioner.Unmount(ctx, root, out)
	}

	slog.Warn("unknown_step_kind", "kind", step.Kind)
	return ErrSkipped
}

func (r *RealExecutor) checkDependencies(step Step, out process.LineFunc) error {
	var missing []string
	for _, tool := range r.Tools {
		path, err := r.LookPath(tool)
		if err != nil {
			missing = append(missing, tool)
			continue
		}
		out(fmt.Sprintf("found %s at %s", tool, path))
	}
	if len(missing) > 0 {
		return &StepError{
			Kind: ExternalToolFailed,
			Step: step.Kind,
			Log:  []string{"missing tools: " + strings.Join(missing, ", ")},
			Err:  fmt.Errorf("%d required tools not found", len(missing)),
		}
	}
	return nil
}
