package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/loa-labs/flatline/internal/cli"
	"github.com/loa-labs/flatline/internal/core"
	"github.com/loa-labs/flatline/internal/snapshot"
)

var statusVerify bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report snapshot storage usage against configured quotas",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusVerify, "verify", false,
		"re-hash stored snapshots and report integrity issues")
}

// statusReport is the status command's JSON payload.
type statusReport struct {
	Quota    core.QuotaStats        `json:"quota"`
	Policy   string                 `json:"on_quota"`
	Dir      string                 `json:"snapshot_dir"`
	Issues   []snapshot.VerifyIssue `json:"issues,omitempty"`
	Verified bool                   `json:"verified"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	app, err := initApp()
	if err != nil {
		return err
	}

	stats, err := app.Store.Quota().Stats()
	if err != nil {
		return err
	}
	report := statusReport{
		Quota:  stats,
		Policy: app.Config.Snapshots.OnQuota,
		Dir:    app.Store.Dir(),
	}
	if statusVerify {
		issues, err := app.Store.Verify(cmd.Context())
		if err != nil {
			return err
		}
		report.Issues = issues
		report.Verified = true
	}
	return cli.PrintJSON(os.Stdout, report)
}
