package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loa-labs/flatline/internal/cli"
	"github.com/loa-labs/flatline/internal/core"
)

var (
	singleIntegrationID string
	singleRunID         string
	singleDryRun        bool
	singleForce         bool
)

var singleCmd = &cobra.Command{
	Use:   "single",
	Short: "Roll back one integration",
	Long: `Roll back a single integration by restoring its snapshot. When
--run-id is omitted the owning run is found by scanning all manifests.
Integrations without a snapshot cannot be rolled back.`,
	RunE: runSingle,
}

func init() {
	rootCmd.AddCommand(singleCmd)

	singleCmd.Flags().StringVar(&singleIntegrationID, "integration-id", "",
		"integration to roll back")
	singleCmd.Flags().StringVar(&singleRunID, "run-id", "",
		"run owning the integration (default: search all manifests)")
	singleCmd.Flags().BoolVar(&singleDryRun, "dry-run", false,
		"report the plan without locking or mutating anything")
	singleCmd.Flags().BoolVar(&singleForce, "force", false,
		"proceed even if the live document has diverged")
}

func runSingle(cmd *cobra.Command, _ []string) error {
	if err := requireFlag(singleIntegrationID, "integration-id"); err != nil {
		return err
	}
	app, err := initApp()
	if err != nil {
		return err
	}

	result, err := app.Orchestrator.Single(cmd.Context(),
		core.IntegrationID(singleIntegrationID), core.RunID(singleRunID),
		singleDryRun, singleForce)
	if result != nil {
		if printErr := cli.PrintJSON(os.Stdout, result); printErr != nil && err == nil {
			err = printErr
		}
	}
	if err != nil {
		return err
	}
	if !quiet && !singleDryRun {
		fmt.Fprintf(os.Stderr, "rolled back %s\n", singleIntegrationID)
	}
	return nil
}
