package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/nudgelabs/nudgesync/cmd/server/cmd"
)

var rootCmd = &cobra.Command{
	Use:   "nudgesync-server",
	Short: "nudgesync backend server",
	Long:  `Multi-tenant catalog-sync backend: pipeline orchestration, sync state, and status reconciliation.`,
	Run: func(c *cobra.Command, args []string) {
		c.Help()
	},
}

func main() {
	rootCmd.AddCommand(cmd.ServeCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
