package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [client-name]",
	Short: "Start a pipeline run",
	Long:  "nudgesync run <client-name> --categories <a,b,c>\n\nStarts the extract/transform/quality pipeline for a client.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clientName := args[0]
		categoriesFlag, _ := cmd.Flags().GetString("categories")

		var categories []string
		for _, c := range strings.Split(categoriesFlag, ",") {
			if c = strings.TrimSpace(c); c != "" {
				categories = append(categories, c)
			}
		}
		if len(categories) == 0 {
			return fmt.Errorf("at least one category is required (--categories)")
		}

		client := newServerClient(cmd)
		env, err := client.post("/api/v1/admin/run-scripts", map[string]interface{}{
			"clientName": clientName,
			"categories": categories,
		})
		if err != nil {
			return err
		}

		fmt.Println(env.Message)
		printData(env)
		return nil
	},
}

func init() {
	runCmd.Flags().String("categories", "", "Comma-separated category list")
}
