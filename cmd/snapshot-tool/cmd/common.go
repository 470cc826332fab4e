package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loa-labs/flatline/internal/cli"
	"github.com/loa-labs/flatline/internal/core"
)

// Contractual exit codes for snapshot-tool. Calling orchestration
// scripts branch on these; they must stay stable.
const (
	exitOK            = 0
	exitFailure       = 1
	exitNotFound      = 2
	exitBadArgs       = 3
	exitDivergence    = 4
	exitQuotaExceeded = 5
	exitSecret        = 6
)

func initApp() (*cli.App, error) {
	return cli.New(viper.GetViper(), cfgFile)
}

// flagErrorFunc maps flag parse errors onto the bad-args exit code.
func flagErrorFunc(_ *cobra.Command, err error) error {
	return core.ErrInvalidArgument(core.CodeInvalidArgument, err.Error())
}

// wrapArgs maps positional-argument validation errors onto the bad-args
// exit code.
func wrapArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return core.ErrInvalidArgument(core.CodeInvalidArgument, err.Error())
		}
		return nil
	}
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
	case core.ErrCatQuota:
		return exitQuotaExceeded
	case core.ErrCatSecret:
		return exitSecret
	default:
		return exitFailure
	}
}
