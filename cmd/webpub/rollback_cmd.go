package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/webpubio/webpub/internal/client"
)

var (
	rollbackHost string
	rollbackTo   uint64
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <url>",
	Short: "Move a site back to an earlier snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := os.Getenv(tokenEnv)
		if token == "" {
			return fmt.Errorf("%s is not set", tokenEnv)
		}

		c, err := client.Dial(cmd.Context(), args[0], token)
		if err != nil {
			return err
		}
		defer c.Close()

		var target *uint64
		if cmd.Flags().Changed("to") {
			target = &rollbackTo
		}

		id, err := c.Rollback(cmd.Context(), rollbackHost, target)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s to snapshot %s\n", green("rolled back"), rollbackHost, cyan(fmt.Sprint(id)))
		return nil
	},
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackHost, "host", "", "Hostname to roll back")
	rollbackCmd.Flags().Uint64Var(&rollbackTo, "to", 0, "Snapshot id to roll back to (default: previous)")
	rollbackCmd.MarkFlagRequired("host")
	rootCmd.AddCommand(rollbackCmd)
}
