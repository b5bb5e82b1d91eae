package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"calview/internal/upstream"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize the Google backend and store its token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Google.CredentialsFile == "" {
			return errors.New("google.credentials_file is not set")
		}
		oc, err := upstream.GoogleOAuthConfig(cfg.Google.CredentialsFile)
		if err != nil {
			return err
		}

		url := oc.AuthCodeURL("calview", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		fmt.Fprintf(cmd.OutOrStdout(), "Open this URL in a browser and paste the code below:\n\n%s\n\ncode: ", url)

		code, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && code == "" {
			return fmt.Errorf("read authorization code: %w", err)
		}
		tok, err := oc.Exchange(cmd.Context(), strings.TrimSpace(code))
		if err != nil {
			return fmt.Errorf("exchange authorization code: %w", err)
		}
		if err := upstream.SaveToken(cfg.Google.TokenFile, tok); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token saved to %s\n", cfg.Google.TokenFile)
		return nil
	},
}
