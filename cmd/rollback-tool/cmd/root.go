package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	logLevel    string
	logFormat   string
	quiet       bool
	projectRoot string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string
)

var rootCmd = &cobra.Command{
	Use:   "rollback-tool",
	Short: "Undo applied integrations through their snapshots",
	Long: `rollback-tool walks an integration run's manifest in reverse and
restores each entry's snapshot, undoing the most recent change first.
Single integrations and direct snapshot restores are also supported.

Results are printed as JSON on stdout; diagnostics go to stderr. Exit
codes are contractual: 0 success, 1 failure, 2 not found, 3 bad
arguments, 4 divergence, 5 lock timeout.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.SetFlagErrorFunc(flagErrorFunc)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .flatline/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", "",
		"project root directory (default: current directory)")

	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("project_root", rootCmd.PersistentFlags().Lookup("project-root"))
}
