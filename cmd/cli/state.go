package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state [client-name]",
	Short: "Show sync-wizard state",
	Long:  "nudgesync state <client-name> [--output json]\n\nShows the client's current position in the sync wizard.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		clientName := args[0]
		outputFmt, _ := cmd.Flags().GetString("output")

		q := url.Values{}
		q.Set("clientName", clientName)

		client := newServerClient(cmd)
		env, err := client.get("/api/v1/admin/sync-state?" + q.Encode())
		if err != nil {
			return err
		}

		if len(env.Data) == 0 || string(env.Data) == "null" {
			fmt.Println(env.Message)
			return nil
		}

		if outputFmt == "json" {
			printData(env)
			return nil
		}

		var st struct {
			ClientName         string     `json:"clientName"`
			CurrentStep        int        `json:"currentStep"`
			Status             string     `json:"status"`
			SelectedCategories []string   `json:"selectedCategories"`
			IsRunningScripts   bool       `json:"isRunningScripts"`
			LastSyncDate       *time.Time `json:"lastSyncDate"`
			LastError          *string    `json:"lastError"`
		}
		if err := json.Unmarshal(env.Data, &st); err != nil {
			printData(env)
			return nil
		}

		fmt.Println("Sync State")
		fmt.Println("──────────")
		fmt.Printf("Client:     %s\n", st.ClientName)
		fmt.Printf("Step:       %d\n", st.CurrentStep)
		fmt.Printf("Status:     %s\n", st.Status)
		fmt.Printf("Running:    %t\n", st.IsRunningScripts)
		if len(st.SelectedCategories) > 0 {
			fmt.Printf("Categories: %v\n", st.SelectedCategories)
		}
		if st.LastSyncDate != nil {
			fmt.Printf("Last sync:  %s\n", st.LastSyncDate.Local().Format("2006-01-02 15:04:05"))
		}
		if st.LastError != nil {
			fmt.Printf("Last error: %s\n", *st.LastError)
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().String("output", "", "Output format: json")
}
