package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/webpubio/webpub/internal/client"
)

var listHost string

var listCmd = &cobra.Command{
	Use:   "list <url>",
	Short: "List snapshots of a site",
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

		snapshots, err := c.List(cmd.Context(), listHost)
		if err != nil {
			return err
		}
		if len(snapshots) == 0 {
			fmt.Printf("no snapshots for %s\n", listHost)
			return nil
		}

		for _, s := range snapshots {
			created := time.Unix(s.CreatedAt, 0).Local().Format(time.DateTime)
			marker := ""
			if s.IsCurrent {
				marker = green(" (current)")
			}
			fmt.Printf("%6d  %s%s\n", s.ID, created, marker)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listHost, "host", "", "Hostname to list")
	listCmd.MarkFlagRequired("host")
	rootCmd.AddCommand(listCmd)
}
