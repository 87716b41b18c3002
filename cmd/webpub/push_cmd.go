package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/webpubio/webpub/internal/client"
)

var pushHost string

var pushCmd = &cobra.Command{
	Use:   "push <dir> <url>",
	Short: "Publish a directory to a server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, url := args[0], args[1]

		token := os.Getenv(tokenEnv)
		if token == "" {
			return fmt.Errorf("%s is not set", tokenEnv)
		}

		c, err := client.Dial(cmd.Context(), url, token)
		if err != nil {
			return err
		}
		defer c.Close()

		id, err := c.Push(cmd.Context(), dir, pushHost)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s snapshot %s\n", green("deployed"), pushHost, cyan(fmt.Sprint(id)))
		return nil
	},
}

func init() {
	pushCmd.Flags().StringVar(&pushHost, "host", "", "Hostname to publish under")
	pushCmd.MarkFlagRequired("host")
	rootCmd.AddCommand(pushCmd)
}
