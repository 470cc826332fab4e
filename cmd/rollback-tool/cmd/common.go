package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loa-labs/flatline/internal/cli"
	"github.com/loa-labs/flatline/internal/core"
)

// Contractual exit codes for rollback-tool.
const (
	exitOK          = 0
	exitFailure     = 1
	exitNotFound    = 2
	exitBadArgs     = 3
	exitDivergence  = 4
	exitLockTimeout = 5
)

func initApp() (*cli.App, error) {
	return cli.New(viper.GetViper(), cfgFile)
}

// flagErrorFunc maps flag parse errors onto the bad-args exit code.
func flagErrorFunc(_ *cobra.Command, err error) error {
	return core.ErrInvalidArgument(core.CodeInvalidArgument, err.Error())
}

// requireFlag validates a flag the caller must supply. Checked in RunE
// rather than via cobra so the error carries the bad-args exit code.
func requireFlag(value, name string) error {
	if value == "" {
		return core.ErrInvalidArgument(core.CodeInvalidArgument, "--"+name+" is required")
	}
	return nil
}

// ExitCode maps a command error to the tool's exit-code contract.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var domErr *core.DomainError
	if !errors.As(err, &domErr) {
		return exitFailure
	}
	switch domErr.Category {
	case core.ErrCatNotFound:
		return exitNotFound
	case core.ErrCatValidation:
		return exitBadArgs
	case core.ErrCatDivergence:
		return exitDivergence
	case core.ErrCatLock:
		return exitLockTimeout
	default:
		return exitFailure
	}
}
