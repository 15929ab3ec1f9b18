package zfs

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/internal/execx"
)

// fakeRunner records commands and returns scripted results keyed by the
// joined command line.
type fakeRunner struct {
	calls   []execx.Cmd
	results map[string]fakeResult
}

type fakeResult struct {
	out []byte
	err error
}

func (f *fakeRunner) Run(ctx context.Context, c execx.Cmd) ([]byte, error) {
	f.calls = append(f.calls, c)
	key := c.Name + " " + strings.Join(c.Args, " ")
	if r, ok := f.results[key]; ok {
		return r.out, r.err
	}
	return nil, nil
}

func (f *fakeRunner) lastCall() execx.Cmd {
	return f.calls[len(f.calls)-1]
}

func TestSnapshot_Recursive(t *testing.T) {
	fr := &fakeRunner{}
	c := NewClient(fr)

	require.NoError(t, c.Snapshot(context.Background(), "tank/home@daily-20240118", true))

	assert.Equal(t, "zfs", fr.lastCall().Name)
	assert.Equal(t, []string{"snapshot", "-r", "tank/home@daily-20240118"}, fr.lastCall().Args)
}

func TestSnapshot_AlreadyExists(t *testing.T) {
	fr := &fakeRunner{results: map[string]fakeResult{
		"zfs snapshot tank/home@daily-20240118": {
			out: []byte("cannot create snapshot 'tank/home@daily-20240118': dataset already exists\n"),
			err: errors.New("exit status 1"),
		},
	}}
	c := NewClient(fr)

	err := c.Snapshot(context.Background(), "tank/home@daily-20240118", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestDestroy_NotFound(t *testing.T) {
	fr := &fakeRunner{results: map[string]fakeResult{
		"zfs destroy tank/home@daily-20240118": {
			out: []byte("cannot open 'tank/home@daily-20240118': dataset does not exist\n"),
			err: errors.New("exit status 1"),
		},
	}}
	c := NewClient(fr)

	err := c.Destroy(context.Background(), "tank/home@daily-20240118", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListSnapshots(t *testing.T) {
	out := "tank/home@daily-20240116\t1705363200\n" +
		"tank/home@daily-20240117\t1705449600\n" +
		"tank/srv@daily-20240117\t1705449600\n"
	fr := &fakeRunner{results: map[string]fakeResult{
		"zfs list -H -p -t snapshot -o name,creation -s creation": {out: []byte(out)},
	}}
	c := NewClient(fr)

	snaps, err := c.ListSnapshots(context.Background(), "tank/home@")
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, "tank/home@daily-20240116", snaps[0].Name)
	assert.Equal(t, "daily-20240116", snaps[0].Label())
	assert.Equal(t, "tank/home", snaps[0].Dataset())
	assert.Equal(t, time.Unix(1705363200, 0).UTC(), snaps[0].Creation)
}

func TestListSnapshots_Empty(t *testing.T) {
	fr := &fakeRunner{results: map[string]fakeResult{
		"zfs list -H -p -t snapshot -o name,creation -s creation": {out: []byte("\n")},
	}}
	c := NewClient(fr)

	snaps, err := c.ListSnapshots(context.Background(), "tank/home@")
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestMountSnapshot_ReadOnly(t *testing.T) {
	fr := &fakeRunner{}
	c := NewClient(fr)

	require.NoError(t, c.MountSnapshot(context.Background(), "tank/home@daily-20240118", "/run/borgsnap/tank/home"))

	assert.Equal(t, "mount", fr.lastCall().Name)
	assert.Equal(t, []string{"-t", "zfs", "-o", "ro", "tank/home@daily-20240118", "/run/borgsnap/tank/home"}, fr.lastCall().Args)
}

func TestUnmount(t *testing.T) {
	fr := &fakeRunner{}
	c := NewClient(fr)

	require.NoError(t, c.Unmount(context.Background(), "/run/borgsnap/tank/home"))
	assert.Equal(t, "umount", fr.lastCall().Name)
}
