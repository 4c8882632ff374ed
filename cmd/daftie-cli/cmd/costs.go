package cmd

import (
	"strings"

	"daftie-backend/cmd/daftie-cli/utils"
	"daftie-backend/services/stash"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(costsCmd)
}

var costsCmd = &cobra.Command{
	Use:   "costs <key>",
	Short: "Shows the recorded price history of one listing.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		key := args[0]
		if !strings.HasPrefix(key, stash.KeyPrefix) {
			key = stash.Key(key)
		}

		meta, ok := store.Snapshot()[key]
		if !ok {
			cmd.Printf("no record for %s\n", key)
			return
		}

		t := utils.NewTable()
		t.AppendHeader(table.Row{"Date", "Price"})
		for _, cost := range meta.Costs {
			t.AppendRow(table.Row{cost.Date.Format("2006-01-02 15:04"), cost.Value})
		}
		t.Render()
	},
}
