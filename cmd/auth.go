package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"voice-session/internal/credentials"
	"voice-session/pkg/interface/desktop"
)

var (
	email    string
	password string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check credentials against the auth endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireCredentials(); err != nil {
			return err
		}
		user, err := credentials.NewAuthenticator(cfg.AuthEndpoint, nil).Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), desktop.OKStyle.Render(fmt.Sprintf("Logged in as %s", user.Email)))
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account on the auth endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := requireCredentials(); err != nil {
			return err
		}
		msg, err := credentials.NewAuthenticator(cfg.AuthEndpoint, nil).Register(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		if msg == "" {
			msg = "Account created"
		}
		fmt.Fprintln(cmd.OutOrStdout(), desktop.OKStyle.Render(msg))
		return nil
	},
}

func requireCredentials() error {
	if email == "" || password == "" {
		return errors.New("--email and --password are required")
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{loginCmd, registerCmd} {
		c.Flags().StringVar(&email, "email", "", "account email")
		c.Flags().StringVar(&password, "password", "", "account password")
	}
}
