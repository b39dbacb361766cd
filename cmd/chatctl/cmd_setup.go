package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/user/chatctl/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		line := liner.NewLiner()
		defer line.Close()
		line.SetCtrlCAborts(true)

		fmt.Println("chatctl setup")
		fmt.Println("Press Enter to accept the value shown.")
		fmt.Println()

		var err error
		if cfg.API.BaseURL, err = prompt(line, "Backend URL", cfg.API.BaseURL); err != nil {
			return err
		}
		token, err := line.PasswordPrompt("Bearer token (blank keeps current): ")
		if err != nil {
			return err
		}
		if token = strings.TrimSpace(token); token != "" {
			cfg.API.Token = token
		}
		if cfg.Locale, err = prompt(line, "Locale (en, zh)", cfg.Locale); err != nil {
			return err
		}
		if cfg.State.Driver, err = prompt(line, "State driver (file, sqlite)", cfg.State.Driver); err != nil {
			return err
		}
		timeout, err := prompt(line, "Request timeout in seconds", strconv.Itoa(cfg.API.TimeoutSeconds))
		if err != nil {
			return err
		}
		if n, err := strconv.Atoi(timeout); err == nil {
			cfg.API.TimeoutSeconds = n
		}

		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

// prompt reads a line prefilled with the current value.
func prompt(line *liner.State, label, current string) (string, error) {
	input, err := line.PromptWithSuggestion(label+": ", current, -1)
	if errors.Is(err, liner.ErrPromptAborted) {
		return current, fmt.Errorf("setup aborted")
	}
	if err != nil {
		return current, err
	}
	if input = strings.TrimSpace(input); input != "" {
		return input, nil
	}
	return current, nil
}
