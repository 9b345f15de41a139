package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixblitz/installer-engine/pkg/bridge"
	"github.com/nixblitz/installer-engine/pkg/disk"
	"github.com/nixblitz/installer-engine/pkg/errors"
	"github.com/nixblitz/installer-engine/pkg/process"
)

type fakeBridge struct {
	calls []string
	build error
}

func (f *fakeBridge) Render(_ context.Context, sel bridge.Selection) (*bridge.ConfigDocument, error) {
	f.calls = append(f.calls, "render "+sel.DevicePath)
	return &bridge.ConfigDocument{ConfigName: "blitz"}, nil
}

func (f *fakeBridge) Check(context.Context) (*bridge.SystemCheckReport, error) {
	report := bridge.Evaluate(bridge.SystemSummary{TotalMemoryMB: 16384, CPUCores: 4})
	return &report, nil
}

func (f *fakeBridge) Build(_ context.Context, doc *bridge.ConfigDocument, _ process.LineFunc) (*bridge.BuildArtifact, error) {
	f.calls = append(f.calls, "build "+doc.ConfigName)
	if f.build != nil {
		return nil, f.build
	}
	return &bridge.BuildArtifact{ConfigName: doc.ConfigName, StorePath: "/nix/store/x"}, nil
}

func (f *fakeBridge) Copy(_ context.Context, a *bridge.BuildArtifact, root string, _ process.LineFunc) error {
	f.calls = append(f.calls, "copy "+a.StorePath+" "+root)
	return nil
}

func (f *fakeBridge) Switch(_ context.Context, a *bridge.BuildArtifact, root string, _ process.LineFunc) (*bridge.SwitchResult, error) {
	f.calls = append(f.calls, "switch "+root)
	return &bridge.SwitchResult{ServicesHealthy: false, FailedUnits: []string{"lnd.service"}}, nil
}

func (f *fakeBridge) CopyConfig(_ context.Context, root string, _ process.LineFunc) error {
	f.calls = append(f.calls, "copy-config "+root)
	return nil
}

type fakeDisks struct {
	calls []string
}

func (f *fakeDisks) ListDisks(context.Context) ([]disk.Candidate, error) {
	return []disk.Candidate{{Name: "sda", DevicePath: "/dev/sda", SizeBytes: 500_000_000_000}}, nil
}

func (f *fakeDisks) PartitionAndFormat(_ context.Context, dev string, _ disk.Scheme, _ process.LineFunc) error {
	f.calls = append(f.calls, "partition "+dev)
	return nil
}

func (f *fakeDisks) Mount(_ context.Context, dev string, _ disk.Scheme, root string, _ process.LineFunc) error {
	f.calls = append(f.calls, "mount "+dev+" "+root)
	return nil
}

func (f *fakeDisks) Unmount(_ context.Context, root string, _ process.LineFunc) error {
	f.calls = append(f.calls, "unmount "+root)
	return nil
}

func newTestRealExecutor(br *fakeBridge, disks *fakeDisks) *RealExecutor {
	r := NewRealExecutor(disks, disks, br, disk.DefaultScheme(), "/mnt")
	r.LookPath = func(name string) (string, error) { return "/run/current-system/sw/bin/" + name, nil }
	return r
}

func TestRealExecutor_FullRun(t *testing.T) {
	br := &fakeBridge{}
	disks := &fakeDisks{}
	p := New(DefaultSteps(), newTestRealExecutor(br, disks), fastRetry)

	job := &Job{Selection: bridge.Selection{DevicePath: "/dev/sda"}}
	results := collect(p.Run(context.Background(), job, 0, Hooks{}))
	require.Len(t, results, 7)
	for _, r := range results {
		assert.Equal(t, OutcomeSucceeded, r.Outcome, r.StepID)
	}

	assert.Equal(t, []string{"render /dev/sda", "build blitz", "copy /nix/store/x /mnt", "switch /mnt", "copy-config /mnt"}, br.calls)
	assert.Equal(t, []string{"partition /dev/sda", "mount /dev/sda /mnt", "unmount /mnt"}, disks.calls)
	require.NotNil(t, job.Switch)
	assert.Equal(t, []string{"lnd.service"}, job.Switch.FailedUnits)
}

func TestRealExecutor_MissingTools(t *testing.T) {
	r := newTestRealExecutor(&fakeBridge{}, &fakeDisks{})
	r.LookPath = func(name string) (string, error) {
		if name == "sgdisk" {
			return "", errors.New("not found")
		}
		return "/bin/" + name, nil
	}

	err := r.Execute(context.Background(), DefaultSteps()[0], &Job{}, func(string) {})
	var se *StepError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, []string{"missing tools: sgdisk"}, se.Log)
}

func TestRealExecutor_BuildErrorKept(t *testing.T) {
	br := &fakeBridge{build: &bridge.BuildError{Log: []string{"error: infinite recursion"}, Err: errors.New("exit 1")}}
	p := New(DefaultSteps()[:2], newTestRealExecutor(br, &fakeDisks{}), RetryPolicy{})

	results := collect(p.Run(context.Background(), &Job{}, 0, Hooks{}))
	require.Len(t, results, 2)
	assert.Equal(t, ErrorKindBuild, results[1].Error.Kind)
	assert.Equal(t, []string{"error: infinite recursion"}, results[1].Error.Log)
}

func TestRealExecutor_CopyWithoutArtifact(t *testing.T) {
	r := newTestRealExecutor(&fakeBridge{}, &fakeDisks{})
	err := r.Execute(context.Background(), DefaultSteps()[4], &Job{}, func(string) {})
	assert.Error(t, err)
}
