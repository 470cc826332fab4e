package cmd

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/loa-labs/flatline/internal/core"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain error", errors.New("boom"), 1},
		{"race", core.ErrRaceDetected("doc.md"), 1},
		{"manifest inconsistent", core.ErrState(core.CodeManifestInconsistent, "bad"), 1},
		{"not found", core.ErrNotFound("integration", "int-1"), 2},
		{"validation", core.ErrInvalidArgument(core.CodeInvalidArgument, "bad"), 3},
		{"divergence", core.ErrDivergenceDetected("doc.md", "a", "b"), 4},
		{"lock timeout", core.ErrLockTimeout("run:run-A"), 5},
		{"wrapped lock timeout", fmt.Errorf("rolling back: %w", core.ErrLockTimeout("run:run-A")), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

// Argument errors raised before any command logic runs must map to the
// bad-args exit code, not the generic failure code.
func TestArgumentErrorsMapToBadArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"single missing integration id", []string{"single"}},
		{"run missing run id", []string{"run"}},
		{"snapshot missing snapshot id", []string{"snapshot"}},
		{"list missing run id", []string{"list"}},
		{"unknown flag", []string{"list", "--bogus"}},
	}
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rootCmd.SetArgs(tt.args)
			err := Execute()
			if err == nil {
				t.Fatalf("Execute(%v) succeeded, want argument error", tt.args)
			}
			if got := ExitCode(err); got != exitBadArgs {
				t.Fatalf("ExitCode(%v) = %d, want %d", err, got, exitBadArgs)
			}
		})
	}
}
