package cmd

import (
	"log"

	"daftie-backend/cmd/daftie-cli/utils"
	"daftie-backend/lib/textutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	areasCmd.AddCommand(areasListCmd)
	areasCmd.AddCommand(areasAddCmd)
	areasCmd.AddCommand(areasDelCmd)
	rootCmd.AddCommand(areasCmd)
}

var areasCmd = &cobra.Command{
	Use:   "areas",
	Short: "Works with the global hide list of area tokens.",
}

var areasListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the hide-list tokens.",
	Run: func(cmd *cobra.Command, args []string) {
		t := utils.NewTable()
		t.AppendHeader(table.Row{"Token"})
		for _, token := range store.Controls().HideList {
			t.AppendRow(table.Row{token})
		}
		t.Render()
	},
}

var areasAddCmd = &cobra.Command{
	Use:   "add <token>...",
	Short: "Adds tokens to the hide list.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		controls := store.Controls()
		for _, arg := range args {
			token := textutil.NormalizeAddress(arg)
			exists := false
			for _, t := range controls.HideList {
				if t == token {
					exists = true
					break
				}
			}
			if !exists {
				controls.HideList = append(controls.HideList, token)
			}
		}
		store.SetControls(controls)
		err := store.Flush(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}
	},
}

var areasDelCmd = &cobra.Command{
	Use:   "del <token>...",
	Short: "Removes tokens from the hide list.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		controls := store.Controls()
		kept := controls.HideList[:0]
		for _, t := range controls.HideList {
			remove := false
			for _, arg := range args {
				if t == textutil.NormalizeAddress(arg) {
					remove = true
					break
				}
			}
			if !remove {
				kept = append(kept, t)
			}
		}
		controls.HideList = kept
		store.SetControls(controls)
		err := store.Flush(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}
	},
}
