package cmd

import (
	"sort"

	"daftie-backend/cmd/daftie-cli/utils"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	notesCmd.AddCommand(notesListCmd)
	rootCmd.AddCommand(notesCmd)
}

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "Works with per-listing notes.",
}

var notesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every listing with a note.",
	Run: func(cmd *cobra.Command, args []string) {
		records := store.Snapshot()
		keys := make([]string, 0, len(records))
		for key, meta := range records {
			if meta.Notes != "" {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)

		t := utils.NewTable()
		t.AppendHeader(table.Row{"Key", "Notes"})
		for _, key := range keys {
			t.AppendRow(table.Row{key, records[key].Notes})
		}
		t.Render()
	},
}
