package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoreinstein/borgsnap/internal/borg"
	"github.com/thoreinstein/borgsnap/internal/config"
	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/logging"
	"github.com/thoreinstein/borgsnap/internal/mount"
	"github.com/thoreinstein/borgsnap/internal/repo"
	"github.com/thoreinstein/borgsnap/internal/retention"
	"github.com/thoreinstein/borgsnap/internal/rotation"
	"github.com/thoreinstein/borgsnap/internal/snapshot"
)

// trace records the sequence of collaborator calls across all fakes.
type trace struct {
	calls []string
}

func (tr *trace) add(call string) { tr.calls = append(tr.calls, call) }

type fakeCaptures struct {
	tr        *trace
	history   map[rotation.Tier]rotation.Label
	createErr error
}

func (f *fakeCaptures) Create(ctx context.Context, dataset string, label rotation.Label, recursive bool) (snapshot.Capture, error) {
	f.tr.add("capture " + dataset + "@" + string(label))
	if f.createErr != nil {
		return snapshot.Capture{}, f.createErr
	}
	return snapshot.Capture{Dataset: dataset, Label: label, Recursive: recursive}, nil
}

func (f *fakeCaptures) History(ctx context.Context, dataset string) (rotation.History, error) {
	f.tr.add("history " + dataset)
	return histMap(f.history), nil
}

type histMap map[rotation.Tier]rotation.Label

func (h histMap) Latest(t rotation.Tier) (rotation.Label, bool) {
	l, ok := h[t]
	return l, ok
}

type fakeMounts struct {
	tr        *trace
	bindErr   error
	unbindErr error
}

func (f *fakeMounts) Bind(ctx context.Context, dataset string, label rotation.Label, recursive bool) (*mount.Binding, error) {
	f.tr.add("bind " + dataset)
	if f.bindErr != nil {
		return nil, f.bindErr
	}
	return &mount.Binding{Dataset: dataset, Label: label, WorkingRoot: "/run/borgsnap/" + dataset}, nil
}

func (f *fakeMounts) Unbind(ctx context.Context, dataset string, label rotation.Label) error {
	f.tr.add("unbind " + dataset)
	return f.unbindErr
}

type fakeBoot struct {
	tr     *trace
	failOn string
}

func (f *fakeBoot) Ensure(ctx context.Context, target repo.Target, dataset string) error {
	f.tr.add("bootstrap " + target.Name() + " " + dataset)
	if target.Name() == f.failOn {
		return errors.New("host unreachable")
	}
	return nil
}

type fakeArchiver struct {
	tr     *trace
	srcs   []string
	failOn string
}

func (f *fakeArchiver) Create(ctx context.Context, r borg.Repo, label rotation.Label, srcDir string, opts borg.Options) error {
	f.tr.add("archive " + r.URL + "::" + string(label))
	f.srcs = append(f.srcs, srcDir)
	if f.failOn != "" && r.URL == f.failOn {
		return errors.New("connection reset")
	}
	return nil
}

type fakeRetain struct {
	tr          *trace
	pruned      []string
	captures    []string
	pruneFailOn string
}

func (f *fakeRetain) EnforceCaptures(ctx context.Context, dataset string, policy retention.Policy, recursive bool) error {
	f.tr.add("prune-captures " + dataset)
	f.captures = append(f.captures, dataset)
	return nil
}

func (f *fakeRetain) PruneArchives(ctx context.Context, r borg.Repo, policy retention.Policy) error {
	f.tr.add("prune-archives " + r.URL)
	if f.pruneFailOn != "" && r.URL == f.pruneFailOn {
		return errors.New("lock timeout")
	}
	f.pruned = append(f.pruned, r.URL)
	return nil
}

type fakeHooks struct {
	tr *trace
}

func (f *fakeHooks) Run(ctx context.Context, name, path, dataset string) {
	if path == "" {
		return
	}
	f.tr.add("hook " + name + " " + dataset)
}

type harness struct {
	tr       *trace
	captures *fakeCaptures
	mounts   *fakeMounts
	boot     *fakeBoot
	archiver *fakeArchiver
	retain   *fakeRetain
	pipeline *Pipeline
}

func newHarness(t *testing.T, cfg *config.Config, targets []repo.Target) *harness {
	t.Helper()
	tr := &trace{}
	h := &harness{
		tr:       tr,
		captures: &fakeCaptures{tr: tr},
		mounts:   &fakeMounts{tr: tr},
		boot:     &fakeBoot{tr: tr},
		archiver: &fakeArchiver{tr: tr},
		retain:   &fakeRetain{tr: tr},
	}
	h.pipeline = New(cfg, Deps{
		Captures: h.captures,
		Mounts:   h.mounts,
		Boot:     h.boot,
		Archiver: h.archiver,
		Retain:   h.retain,
		Hooks:    &fakeHooks{tr: tr},
		Targets:  targets,
		Log:      logging.ForTest(t),
		Now:      func() time.Time { return time.Date(2024, 3, 13, 4, 0, 0, 0, time.UTC) },
	})
	return h
}

func testConfig() *config.Config {
	return &config.Config{
		Datasets:       []config.Dataset{{Name: "tank/home", Recursive: true}},
		Keep:           config.Keep{Daily: 7, Weekly: 4, Monthly: 6},
		Compression:    "lz4",
		CommandTimeout: time.Minute,
	}
}

func localOnly() []repo.Target {
	return []repo.Target{
		repo.Local{Root: "/backup/borg", Passphrase: "pw"},
	}
}

func TestRun_HappyPath(t *testing.T) {
	cfg := testConfig()
	cfg.PreHook = "/usr/local/bin/freeze"
	cfg.PostHook = "/usr/local/bin/thaw"
	h := newHarness(t, cfg, localOnly())

	res, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Datasets, 1)
	assert.False(t, res.Failed())

	// No prior history on a plain Wednesday still forces a monthly.
	assert.Equal(t, rotation.Label("monthly-20240313"), res.Datasets[0].Label)

	assert.Equal(t, []string{
		"history tank/home",
		"hook pre tank/home",
		"capture tank/home@monthly-20240313",
		"bind tank/home",
		"bootstrap local tank/home",
		"archive /backup/borg/tank/home::monthly-20240313",
		"unbind tank/home",
		"prune-captures tank/home",
		"prune-archives /backup/borg/tank/home",
		"hook post tank/home",
	}, h.tr.calls)

	// Archives are created from the capture's working tree.
	assert.Equal(t, []string{"/run/borgsnap/tank/home"}, h.archiver.srcs)
}

func TestRun_DeciderFollowsHistory(t *testing.T) {
	h := newHarness(t, testConfig(), localOnly())
	h.captures.history = map[rotation.Tier]rotation.Label{
		rotation.Monthly: "monthly-20240301",
		rotation.Weekly:  "weekly-20240310",
	}

	res, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rotation.Label("daily-20240313"), res.Datasets[0].Label)
}

func TestRun_CaptureCollisionAbortsDatasetOnly(t *testing.T) {
	cfg := testConfig()
	cfg.Datasets = []config.Dataset{
		{Name: "tank/home"},
		{Name: "tank/media"},
	}
	h := newHarness(t, cfg, localOnly())
	h.captures.createErr = snapshot.ErrCaptureExists

	res, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Datasets, 2)

	for _, d := range res.Datasets {
		assert.Equal(t, StepSnapshot, d.Step)
		assert.ErrorIs(t, d.Err, snapshot.ErrCaptureExists)
		assert.Empty(t, d.Targets)
	}

	// Both datasets were attempted despite the first one failing.
	assert.Contains(t, h.tr.calls, "capture tank/home@monthly-20240313")
	assert.Contains(t, h.tr.calls, "capture tank/media@monthly-20240313")
	assert.NotContains(t, h.tr.calls, "bind tank/home")
}

func TestRun_MountFailureLeavesStateForTidy(t *testing.T) {
	h := newHarness(t, testConfig(), localOnly())
	h.mounts.bindErr = mount.ErrBindFailed

	res, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	d := res.Datasets[0]
	assert.Equal(t, StepMount, d.Step)
	assert.ErrorIs(t, d.Err, mount.ErrBindFailed)

	// The capture was taken but nothing was archived or unbound; the
	// capture is deliberately left for recovery.
	assert.NotContains(t, h.tr.calls, "unbind tank/home")
	assert.Empty(t, h.archiver.srcs)
	assert.Empty(t, h.retain.captures)
}

func TestRun_TargetFailureDoesNotStopOtherTarget(t *testing.T) {
	targets := []repo.Target{
		repo.Local{Root: "/backup/borg", Passphrase: "pw"},
		repo.Local{Root: "/mirror/borg", Passphrase: "pw"},
	}
	h := newHarness(t, testConfig(), targets)
	h.archiver.failOn = "/backup/borg/tank/home"

	res, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	d := res.Datasets[0]
	assert.True(t, d.Failed())
	assert.Empty(t, d.Step, "target failures stay inside TargetResult")
	require.Len(t, d.Targets, 2)
	assert.Equal(t, StepArchive, d.Targets[0].Step)
	assert.Error(t, d.Targets[0].Err)
	assert.NoError(t, d.Targets[1].Err)

	// Both archives were attempted, and the unmount still happened.
	assert.Contains(t, h.tr.calls, "archive /mirror/borg/tank/home::monthly-20240313")
	assert.Contains(t, h.tr.calls, "unbind tank/home")
}

func TestRun_ArchivePruneSkipsFailedTarget(t *testing.T) {
	targets := []repo.Target{
		repo.Local{Root: "/backup/borg", Passphrase: "pw"},
		repo.Local{Root: "/mirror/borg", Passphrase: "pw"},
	}
	h := newHarness(t, testConfig(), targets)
	h.archiver.failOn = "/backup/borg/tank/home"

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"/mirror/borg/tank/home"}, h.retain.pruned)
}

func TestRun_PruneFailureAttachesToItsTarget(t *testing.T) {
	// Two targets of the same kind share a name, so results must be
	// matched up positionally.
	targets := []repo.Target{
		repo.Local{Root: "/backup/borg", Passphrase: "pw"},
		repo.Local{Root: "/mirror/borg", Passphrase: "pw"},
	}
	h := newHarness(t, testConfig(), targets)
	h.retain.pruneFailOn = "/mirror/borg/tank/home"

	res, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	d := res.Datasets[0]
	require.Len(t, d.Targets, 2)
	assert.NoError(t, d.Targets[0].Err)
	assert.Equal(t, StepPrune, d.Targets[1].Step)
	assert.Error(t, d.Targets[1].Err)
	assert.Equal(t, []string{"/backup/borg/tank/home"}, h.retain.pruned)
}

func TestRun_BootstrapFailureSkipsArchive(t *testing.T) {
	h := newHarness(t, testConfig(), localOnly())
	h.boot.failOn = "local"

	res, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	d := res.Datasets[0]
	require.Len(t, d.Targets, 1)
	assert.Equal(t, StepBootstrap, d.Targets[0].Step)
	assert.Empty(t, h.archiver.srcs)
	assert.Empty(t, h.retain.pruned)

	// The dataset itself still unbinds cleanly.
	assert.Contains(t, h.tr.calls, "unbind tank/home")
}

func TestRun_UnmountFailureSkipsPrune(t *testing.T) {
	h := newHarness(t, testConfig(), localOnly())
	h.mounts.unbindErr = mount.ErrBindFailed

	res, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	d := res.Datasets[0]
	assert.Equal(t, StepUnmount, d.Step)
	assert.Empty(t, h.retain.captures)
	assert.Empty(t, h.retain.pruned)
}

func TestRunWithLabel_BypassesDeciderAndPrune(t *testing.T) {
	h := newHarness(t, testConfig(), localOnly())

	res, err := h.pipeline.RunWithLabel(context.Background(), "daily-20240401")
	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Equal(t, rotation.Label("daily-20240401"), res.Datasets[0].Label)

	assert.NotContains(t, h.tr.calls, "history tank/home")
	assert.Empty(t, h.retain.captures)
	assert.Empty(t, h.retain.pruned)
	assert.Contains(t, h.tr.calls, "archive /backup/borg/tank/home::daily-20240401")
}

func TestRun_PostHookRunsAfterFailure(t *testing.T) {
	cfg := testConfig()
	cfg.PreHook = "/usr/local/bin/freeze"
	cfg.PostHook = "/usr/local/bin/thaw"
	h := newHarness(t, cfg, localOnly())
	h.mounts.bindErr = mount.ErrBindFailed

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	assert.Contains(t, h.tr.calls, "hook pre tank/home")
	assert.Contains(t, h.tr.calls, "hook post tank/home")
}
