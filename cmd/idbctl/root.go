package main

import (
	"time"

	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "idbctl",
	Short: "administer idb record stores",
	Long: `idbctl opens an idb store described by a YAML descriptor and runs
administrative operations against it: creating or upgrading the store,
reading and writing records as JSON, clearing collections and deleting
whole stores.

Every flag can also be set through an IDB_* environment variable
(e.g. IDB_DIR), including from .env files in the working directory.`,
	PersistentPreRunE: bindCommandFlags,
	SilenceUsage:      true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := RootCmd.PersistentFlags()
	flags.StringP("descriptor", "f", "", "store descriptor (YAML)")
	flags.String("dir", "data", "directory holding file-based stores")
	flags.String("engine", "bolt", "storage engine (bolt, badger)")
	flags.BoolP("verbose", "v", false, "log every store operation")
	flags.Duration("timeout", 30*time.Second, "give up waiting after this long (0 waits forever)")
	flags.Duration("lock-timeout", 5*time.Second, "how long to wait for a store file held by another process")

	dropCmd.Flags().Duration("retry-interval", 60*time.Millisecond, "pause between deletion attempts while the store is open")
	dropCmd.Flags().Int("max-delete-attempts", 0, "give up after this many blocked attempts (0 retries until --timeout)")

	RootCmd.AddCommand(initCmd, statsCmd, putCmd, updateCmd, getCmd, deleteCmd, scanCmd, reindexCmd, dumpCmd, clearCmd, dropCmd)
}
