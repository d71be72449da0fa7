package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload [client-name] [csv-file]",
	Short: "Upload a catalog CSV",
	Long:  "nudgesync upload <client-name> <csv-file>\n\nUploads a raw catalog CSV and attaches it to the client's sync state.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		clientName, filePath := args[0], args[1]

		client := newServerClient(cmd)
		env, err := client.postFile("/api/v1/admin/upload-csv", clientName, filePath)
		if err != nil {
			return err
		}

		fmt.Println(env.Message)
		printData(env)
		return nil
	},
}
