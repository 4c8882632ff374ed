package cmd

import (
	"log"
	"sort"

	"daftie-backend/cmd/daftie-cli/utils"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	hiddenCmd.AddCommand(hiddenListCmd)
	hiddenCmd.AddCommand(hiddenClearCmd)
	rootCmd.AddCommand(hiddenCmd)
}

var hiddenCmd = &cobra.Command{
	Use:   "hidden",
	Short: "Works with manually hidden listings.",
}

var hiddenListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists every manually hidden listing.",
	Run: func(cmd *cobra.Command, args []string) {
		records := store.Snapshot()
		keys := make([]string, 0, len(records))
		for key, meta := range records {
			if meta.Hidden {
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

var hiddenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Unhides every manually hidden listing.",
	Run: func(cmd *cobra.Command, args []string) {
		cleared := 0
		for key, meta := range store.Snapshot() {
			if !meta.Hidden {
				continue
			}
			store.Get(key).Hidden = false
			cleared++
		}
		err := store.Flush(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}
		cmd.Printf("unhid %d listings\n", cleared)
	},
}
