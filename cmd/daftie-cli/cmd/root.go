// daftie-cli inspects and edits the listing metadata database used by
// overlayd, working on the same config.json5.
package cmd

import (
	"fmt"
	"log"
	"os"

	"daftie-backend/lib/configutil"
	configlibsql "daftie-backend/lib/configutil/libsql"
	"daftie-backend/services/stash"
	"daftie-backend/services/stash/db"

	"github.com/spf13/cobra"
)

type Config struct {
	Database configlibsql.Struct `json:"database"`
}

var store *stash.Store

var rootCmd = &cobra.Command{
	Use:   "daftie-cli",
	Short: "daftie-cli inspects the listing metadata stored by overlayd.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			log.Fatal(err)
		}
		sqlite, err := config.Database.OpenDB(db.Schema)
		if err != nil {
			log.Fatal(err)
		}
		store = stash.NewStore(sqlite)
		err = store.LoadAll(cmd.Context())
		if err != nil {
			log.Fatal(err)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
