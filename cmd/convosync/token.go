package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/convosync/internal/api"
	"github.com/vovakirdan/convosync/internal/proto"
)

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("name", "", "display name")
	tokenCmd.Flags().String("role", "user", "role (user or professional)")
}

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue a development token from the backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		role, _ := cmd.Flags().GetString("role")

		client := api.New(cfg.Client.APIURL, "", cfg.Client.RequestTimeout, logger)
		token, err := client.IssueToken(cmd.Context(), proto.TokenRequest{UserID: args[0], Name: name, Role: role})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
