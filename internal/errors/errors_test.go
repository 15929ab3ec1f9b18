package errors

import (
	stderrors "errors"
	"testing"
)

func TestExitError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ExitError
		want string
	}{
		{
			name: "with underlying error",
			err:  NewExitError(stderrors.New("boom"), ExitSystem),
			want: "boom",
		},
		{
			name: "nil underlying error",
			err:  NewExitError(nil, ExitUser),
			want: "exit code 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	inner := stderrors.New("inner")
	err := NewUserError(inner, "try again")

	if !stderrors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}

	var exitErr *ExitError
	if !stderrors.As(err, &exitErr) {
		t.Fatal("errors.As should find *ExitError")
	}
	if exitErr.Code != ExitUser {
		t.Errorf("Code = %d, want %d", exitErr.Code, ExitUser)
	}
	if exitErr.Suggestion != "try again" {
		t.Errorf("Suggestion = %q, want %q", exitErr.Suggestion, "try again")
	}
}

func TestMark_VisibleToStdlibIs(t *testing.T) {
	sentinel := New("capture already exists")
	err := Mark(Wrap(stderrors.New("zfs: dataset busy"), "creating capture"), sentinel)

	if !stderrors.Is(err, sentinel) {
		t.Error("stdlib errors.Is should see the mark")
	}
	if !Is(err, sentinel) {
		t.Error("package Is should see the mark")
	}
	if got, want := err.Error(), "creating capture: zfs: dataset busy"; got != want {
		t.Errorf("Error() = %q, want %q; the sentinel must not leak into the message", got, want)
	}
	if Mark(nil, sentinel) != nil {
		t.Error("Mark(nil, ...) should stay nil")
	}
}

func TestNewConfigError_MarksSentinel(t *testing.T) {
	err := NewConfigError(stderrors.New("missing datasets"))

	if !Is(err, ErrInvalidConfig) {
		t.Error("config errors should be identifiable via ErrInvalidConfig")
	}
	var exitErr *ExitError
	if !stderrors.As(err, &exitErr) {
		t.Fatal("errors.As should find *ExitError")
	}
	if exitErr.Code != ExitUser {
		t.Errorf("Code = %d, want %d", exitErr.Code, ExitUser)
	}
}
