package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var log = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "rtoskernel",
	Short: "Boots and exercises the hosted RTOS kernel simulation",
}

// Execute runs the root command, returning the first error any subcommand
// reports.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scenarioCmd)
}
