package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webpubio/webpub/internal/store"
)

var gcDataDir string

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete chunks not referenced by any snapshot",
	Long: `Collects every chunk hash reachable from any snapshot and deletes all
other rows from all shards. Run it against a stopped server: the store takes
no lock against other processes, so a running server can write to it
during the scan.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(gcDataDir)
		if err != nil {
			return err
		}
		defer s.Close()

		deleted, err := s.GC()
		if err != nil {
			return err
		}
		fmt.Printf("%s %d chunks\n", green("collected"), deleted)
		return nil
	},
}

func init() {
	gcCmd.Flags().StringVar(&gcDataDir, "data", defaultDataDir, "Data directory")
	rootCmd.AddCommand(gcCmd)
}
