package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [client-name]",
	Short: "Show pipeline status",
	Long:  "nudgesync status <client-name> [--run-id <id>] [--csv-id <id>] [--output json]\n\nShows the latest pipeline status for a client, or the status of a specific run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clientName := args[0]
		runID, _ := cmd.Flags().GetString("run-id")
		csvID, _ := cmd.Flags().GetString("csv-id")
		outputFmt, _ := cmd.Flags().GetString("output")

		q := url.Values{}
		q.Set("clientName", clientName)
		if runID != "" {
			q.Set("runId", runID)
		}
		if csvID != "" {
			q.Set("csvId", csvID)
		}

		client := newServerClient(cmd)
		env, err := client.get("/api/v1/admin/pipeline-status?" + q.Encode())
		if err != nil {
			return err
		}

		if outputFmt == "json" {
			printData(env)
			return nil
		}

		var st struct {
			ClientName string    `json:"clientName"`
			RunID      string    `json:"runId"`
			CSVID      string    `json:"csvId"`
			Status     string    `json:"status"`
			Message    string    `json:"message"`
			UpdatedAt  time.Time `json:"updatedAt"`
		}
		if err := json.Unmarshal(env.Data, &st); err != nil {
			printData(env)
			return nil
		}

		fmt.Println("Pipeline Status")
		fmt.Println("───────────────")
		fmt.Printf("Client:   %s\n", st.ClientName)
		if st.RunID != "" {
			fmt.Printf("Run ID:   %s\n", st.RunID)
		}
		if st.CSVID != "" {
			fmt.Printf("CSV ID:   %s\n", st.CSVID)
		}
		fmt.Printf("Status:   %s\n", st.Status)
		if st.Message != "" {
			fmt.Printf("Message:  %s\n", st.Message)
		}
		if !st.UpdatedAt.IsZero() {
			fmt.Printf("Updated:  %s\n", st.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("run-id", "", "Look up a specific run")
	statusCmd.Flags().String("csv-id", "", "Look up the run for a specific CSV upload")
	statusCmd.Flags().String("output", "", "Output format: json")
}
