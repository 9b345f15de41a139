package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/process"
)

// switch-to-configuration exits with 4 when activation finished but some
// units failed.
const switchExitUnitsFailed = 4

// Ownership applied to the copied configuration directory (admin user, users group).
const configOwner = "1000:100"

// NixBridge drives nix and the nixos install tools.
type NixBridge struct {
	runner     process.Runner
	workDir    string
	configName string
	scheme     disk.Scheme
	probe      func() (SystemSummary, error)
}

// NewNixBridge creates a bridge for the flake in workDir/src.
func NewNixBridge(runner process.Runner, workDir, configName string, scheme disk.Scheme) *NixBridge {
	return &NixBridge{
		runner:     runner,
		workDir:    workDir,
		configName: configName,
		scheme:     scheme,
		probe:      ProbeSystem,
	}
}

func (b *NixBridge) Render(ctx context.Context, sel Selection) (*ConfigDocument, error) {
	doc := NewConfigDocument(b.configName, sel, b.scheme)
	if err := doc.WriteTo(b.workDir); err != nil {
		slog.Error("render_failed", "work_dir", b.workDir, "error", err)
		return nil, err
	}
	slog.Info("render_complete", "path", doc.Path, "device", sel.DevicePath)
	return doc, nil
}

func (b *NixBridge) Check(ctx context.Context) (*SystemCheckReport, error) {
	summary, err := b.probe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to gather system information")
	}
	report := Evaluate(summary)
	slog.Info("system_check", "memory_mb", summary.TotalMemoryMB, "cpu_cores", summary.CPUCores, "compatible", report.IsCompatible)
	return &report, nil
}

// flakeAttr is the toplevel derivation of the configured system.
func (b *NixBridge) flakeAttr(configName string) string {
	return fmt.Sprintf("%s#nixosConfigurations.%s.config.system.build.toplevel", filepath.Join(b.workDir, "src"), configName)
}

func (b *NixBridge) Build(ctx context.Context, doc *ConfigDocument, out process.LineFunc) (*BuildArtifact, error) {
	name := b.configName
	if doc != nil && doc.ConfigName != "" {
		name = doc.ConfigName
	}
	slog.Info("build_start", "config", name)

	res, err := b.runner.Run(ctx, "nix", []string{
		"--extra-experimental-features", "nix-command flakes",
		"build", b.flakeAttr(name),
		"--no-link", "--print-out-paths", "--print-build-logs",
	}, out)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, "build interrupted")
		}
		slog.Error("build_failed", "config", name, "error", err)
		return nil, &BuildError{Log: resultOutput(res), Err: err}
	}

	storePath := lastStorePath(res.Output)
	if storePath == "" {
		return nil, &BuildError{Log: res.Output, Err: fmt.Errorf("nix build printed no store path")}
	}

	slog.Info("build_complete", "config", name, "store_path", storePath)
	return &BuildArtifact{ConfigName: name, StorePath: storePath}, nil
}

func (b *NixBridge) Copy(ctx context.Context, artifact *BuildArtifact, root string, out process.LineFunc) error {
	slog.Info("copy_start", "store_path", artifact.StorePath, "root", root)

	_, err := b.runner.Run(ctx, "nixos-install", []string{
		"--root", root,
		"--system", artifact.StorePath,
		"--no-root-passwd",
		"--no-channel-copy",
		"--no-bootloader",
	}, out)
	if err != nil {
		slog.Error("copy_failed", "root", root, "error", err)
		return errors.Wrap(err, "failed to copy system closure")
	}

	slog.Info("copy_complete", "root", root)
	return nil
}

func (b *NixBridge) Switch(ctx context.Context, artifact *BuildArtifact, root string, out process.LineFunc) (*SwitchResult, error) {
	slog.Info("switch_start", "store_path", artifact.StorePath, "root", root)

	res, err := b.runner.Run(ctx, "nixos-enter", []string{
		"--root", root,
		"-c", artifact.StorePath + "/bin/switch-to-configuration boot",
	}, out)
	log := resultOutput(res)
	units := ParseFailedUnits(log)

	if err != nil {
		var exitErr *process.ExitError
		if ctx.Err() == nil && errors.As(err, &exitErr) && exitErr.ExitCode == switchExitUnitsFailed {
			slog.Warn("switch_units_failed", "root", root, "units", units)
			return &SwitchResult{ServicesHealthy: false, FailedUnits: units, Log: log}, nil
		}
		if ctx.Err() != nil {
			return nil, errors.Wrap(err, "switch interrupted")
		}
		code := -1
		if exitErr != nil {
			code = exitErr.ExitCode
		}
		slog.Error("switch_failed", "root", root, "exit_code", code, "error", err)
		return nil, &SwitchError{ExitCode: code, Log: log, Err: err}
	}

	result := &SwitchResult{ServicesHealthy: len(units) == 0, FailedUnits: units, Log: log}
	slog.Info("switch_complete", "root", root, "healthy", result.ServicesHealthy)
	return result, nil
}

func (b *NixBridge) CopyConfig(ctx context.Context, root string, out process.LineFunc) error {
	target := filepath.Join(root, "mnt", "data", "config")
	slog.Info("copy_config_start", "work_dir", b.workDir, "target", target)

	cmds := [][]string{
		{"mkdir", "-p", target},
		{"rsync", "-a", "--delete", strings.TrimSuffix(b.workDir, "/") + "/", target},
		{"chown", "-R", configOwner, target},
	}
	for _, c := range cmds {
		if _, err := b.runner.Run(ctx, c[0], c[1:], out); err != nil {
			slog.Error("copy_config_failed", "command", c[0], "error", err)
			return errors.Wrap(err, "failed to copy configuration")
		}
	}

	slog.Info("copy_config_complete", "target", target)
	return nil
}

func resultOutput(res *process.Result) []string {
	if res == nil {
		return nil
	}
	return res.Output
}

func lastStorePath(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if strings.HasPrefix(line, "/nix/store/") {
			return line
		}
	}
	return ""
}
