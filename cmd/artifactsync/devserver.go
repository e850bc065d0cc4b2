package main

import (
	"log/slog"

	"github.com/openmined/artifactsync/internal/server"
	"github.com/spf13/cobra"
)

func newDevServerCmd() *cobra.Command {
	config := &server.Config{}

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run an in-memory content server for local experiments",
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := server.New(config)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			defer slog.Info("Bye!")
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&config.Addr, "addr", "a", server.DefaultAddr, "address to bind the server")
	cmd.Flags().StringVar(&config.APIKey, "api-key", "", "require this API key")
	cmd.Flags().StringVar(&config.RateLimit, "rate-limit", "", "rate limit per client, e.g. 50-S")
	cmd.Flags().BoolVar(&config.OmitFingerprints, "no-fingerprints", false, "omit fingerprints from listings")
	return cmd
}
