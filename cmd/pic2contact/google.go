package main

import (
	"errors"

	"github.com/spf13/cobra"

	"pic2contact/internal/gcal"
	appLog "pic2contact/internal/log"
)

var googleLoginCmd = &cobra.Command{
	Use:   "google-login",
	Short: "Authorize Google Calendar import and save the token",
	Long: `google-login runs the OAuth consent flow for the client in
google_calendar.credentials_file and stores the token at
google_calendar.token_file. Open the printed URL on this machine.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		g := cfg.GoogleCalendar
		if g == nil || g.CredentialsFile == "" {
			return errors.New("google_calendar.credentials_file is not configured")
		}

		conf, err := gcal.LoadOAuthConfig(g.CredentialsFile)
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		tok, err := gcal.Login(ctx, conf, g.LoginListen, cmd.OutOrStdout())
		if err != nil {
			appLog.Error("google login failed", err)
			return err
		}
		return gcal.SaveToken(g.TokenFile, tok)
	},
}
