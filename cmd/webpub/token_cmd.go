package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/webpubio/webpub/internal/store"
)

var tokenDataDir string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage access tokens",
}

var tokenAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a new token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(tokenDataDir)
		if err != nil {
			return err
		}
		defer s.Close()

		token, err := s.AddToken()
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(tokenDataDir)
		if err != nil {
			return err
		}
		defer s.Close()

		tokens, err := s.ListTokens()
		if err != nil {
			return err
		}
		for _, t := range tokens {
			created := time.Unix(t.CreatedAt, 0).Local().Format(time.DateTime)
			fmt.Printf("%s  %s\n", t.Token, created)
		}
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <token>",
	Short: "Revoke a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := store.Open(tokenDataDir)
		if err != nil {
			return err
		}
		defer s.Close()

		removed, err := s.RevokeToken(args[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("token not found")
		}
		fmt.Println(green("revoked"))
		return nil
	},
}

func init() {
	tokenCmd.PersistentFlags().StringVar(&tokenDataDir, "data", defaultDataDir, "Data directory")
	tokenCmd.AddCommand(tokenAddCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.AddCommand(tokenRevokeCmd)
	rootCmd.AddCommand(tokenCmd)
}
