package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/webpubio/webpub/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the site and sync servers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config := &server.Config{
			HTTPPort: viper.GetInt("http_port"),
			SyncPort: viper.GetInt("sync_port"),
			DataDir:  viper.GetString("data"),
			Keep:     viper.GetInt("keep"),
		}

		s, err := server.New(config)
		if err != nil {
			return err
		}
		return s.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Int("http-port", server.DefaultHTTPPort, "Port for serving sites over HTTP")
	serveCmd.Flags().Int("sync-port", server.DefaultSyncPort, "Port for the sync endpoint")
	serveCmd.Flags().String("data", defaultDataDir, "Data directory")
	serveCmd.Flags().Int("keep", server.DefaultKeep, "Snapshots to keep per site")

	viper.BindPFlag("http_port", serveCmd.Flags().Lookup("http-port"))
	viper.BindPFlag("sync_port", serveCmd.Flags().Lookup("sync-port"))
	viper.BindPFlag("data", serveCmd.Flags().Lookup("data"))
	viper.BindPFlag("keep", serveCmd.Flags().Lookup("keep"))

	// WEBPUB_HTTP_PORT and friends override the defaults.
	viper.SetEnvPrefix("WEBPUB")
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)
}
