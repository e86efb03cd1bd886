package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without subcommands
var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Quarry is a distributed full-text search server",
	Long: `Quarry serves JSON search requests, document ingests and
delete-by-term operations against named indexes, and routes index
operations to the nodes holding the corresponding shards.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}
