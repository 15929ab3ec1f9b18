package execx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoreinstein/borgsnap/internal/errors"
)

func TestRun_CapturesOutput(t *testing.T) {
	out, err := New().Run(context.Background(), Cmd{Name: "echo", Args: []string{"hello"}})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestRun_CommandFailure(t *testing.T) {
	_, err := New().Run(context.Background(), Cmd{Name: "false"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, errors.ErrInterrupted)
}

func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New().Run(ctx, Cmd{Name: "sleep", Args: []string{"10"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInterrupted)
}

func TestRun_ExtraEnv(t *testing.T) {
	out, err := New().Run(context.Background(), Cmd{
		Name: "sh",
		Args: []string{"-c", "printf %s \"$BORGSNAP_TEST_VAR\""},
		Env:  []string{"BORGSNAP_TEST_VAR=threaded"},
	})
	require.NoError(t, err)
	assert.Equal(t, "threaded", string(out))
}
