package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authTokenCmd, authLogoutCmd, authStatusCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the bearer token",
}

var authTokenCmd = &cobra.Command{
	Use:   "token <jwt>",
	Short: "Store a bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		changed, err := a.session.SetToken(ctx, args[0])
		if err != nil {
			return fmt.Errorf("store token: %w", err)
		}
		if changed {
			a.printer.Info("Signed in as a different user; selection and settings were reset.")
		}
		a.printer.Success("Token stored for %s", displayID(a.session.Identity()))
		return nil
	}),
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if err := a.session.Logout(ctx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		a.printer.Success("Logged out")
		return nil
	}),
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current identity",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if a.session.Token() == "" {
			a.printer.Print("Not signed in.")
			return nil
		}
		a.printer.Print("Signed in as %s", displayID(a.session.Identity()))
		return nil
	}),
}
