package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(logoutCmd)
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the persisted transcript and session id of BROWSING_SESSION",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.BrowsingSession == "" {
			return errors.New("BROWSING_SESSION is not set, nothing to clear")
		}
		a, err := openBackends(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.storage().Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleared browsing session %s\n", cfg.BrowsingSession)
		return nil
	},
}
