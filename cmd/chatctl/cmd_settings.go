package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/user/chatctl/internal/types"
)

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change generation settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored settings",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		s, err := a.client.GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if err := a.session.SetSettings(ctx, s); err != nil {
			return err
		}
		printSettings(a, s)
		return nil
	}),
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <temperature|max_tokens|stream> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		s, err := a.client.GetSettings(ctx)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if err := applySetting(&s, args[0], args[1]); err != nil {
			return err
		}
		stored, err := a.ctrl.UpdateSettings(ctx, s)
		if err != nil {
			return fmt.Errorf("update settings: %w", err)
		}
		printSettings(a, stored)
		return nil
	}),
}

func applySetting(s *types.Settings, key, value string) error {
	switch key {
	case "temperature":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("temperature: %w", err)
		}
		s.Temperature = v
	case "max_tokens":
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("max_tokens: %w", err)
		}
		s.MaxTokens = v
	case "stream":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		s.Stream = v
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

func printSettings(a *app, s types.Settings) {
	a.printer.Print("temperature = %g", s.Temperature)
	a.printer.Print("max_tokens = %d", s.MaxTokens)
	a.printer.Print("stream = %t", s.Stream)
}
