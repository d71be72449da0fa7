package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset [client-name]",
	Short: "Reset the sync wizard for a client",
	Long:  "nudgesync reset <client-name>\n\nResets the wizard to step 1. Prior sync-completion dates are preserved.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clientName := args[0]

		client := newServerClient(cmd)
		env, err := client.post("/api/v1/admin/sync-state/reset", map[string]string{
			"clientName": clientName,
		})
		if err != nil {
			return err
		}

		fmt.Println(env.Message)
		return nil
	},
}
