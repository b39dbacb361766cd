package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/chatctl/internal/output"
	"github.com/user/chatctl/internal/types"
)

func init() {
	rootCmd.AddCommand(providerCmd, modelCmd)
	providerCmd.AddCommand(providerListCmd, providerUseCmd)
	modelCmd.AddCommand(modelListCmd, modelUseCmd)
}

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "List and select model providers",
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "List and select models of the current provider",
}

func marker(selected bool) string {
	if selected {
		return "*"
	}
	return ""
}

var providerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if err := a.sel.LoadProviders(ctx); err != nil {
			return fmt.Errorf("load providers: %w", err)
		}
		current := a.sel.Selection().ProviderID
		tbl := output.NewTable(a.printer.Out(), []string{"", "ID", "NAME", "API HOST"})
		for _, p := range a.sel.Providers() {
			tbl.AddRow(marker(p.ID == current), string(p.ID), p.Name, p.APIHost)
		}
		if tbl.Len() == 0 {
			a.printer.Print("No providers configured.")
			return nil
		}
		return tbl.Render()
	}),
}

var providerUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Select a provider",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if err := a.sel.LoadProviders(ctx); err != nil {
			return fmt.Errorf("load providers: %w", err)
		}
		if err := a.sel.SelectProvider(ctx, types.ProviderID(args[0])); err != nil {
			return fmt.Errorf("select provider: %w", err)
		}
		cur := a.sel.Selection()
		a.printer.Success("Provider %s selected, model %s", cur.ProviderID, displayID(string(cur.ModelID)))
		return nil
	}),
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List models of the selected provider",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if err := a.sel.LoadProviders(ctx); err != nil {
			return fmt.Errorf("load providers: %w", err)
		}
		cur := a.sel.Selection()
		if cur.ProviderID == "" {
			a.printer.Print("No provider selected.")
			return nil
		}
		tbl := output.NewTable(a.printer.Out(), []string{"", "ID", "NAME"})
		for _, m := range a.sel.Models() {
			tbl.AddRow(marker(m.ID == cur.ModelID), string(m.ID), m.Name)
		}
		if tbl.Len() == 0 {
			a.printer.Print("Provider %s has no models.", cur.ProviderID)
			return nil
		}
		return tbl.Render()
	}),
}

var modelUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Select a model of the current provider",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if err := a.sel.LoadProviders(ctx); err != nil {
			return fmt.Errorf("load providers: %w", err)
		}
		if err := a.sel.SelectModel(ctx, types.ModelID(args[0])); err != nil {
			return fmt.Errorf("select model: %w", err)
		}
		a.printer.Success("Model %s selected", args[0])
		return nil
	}),
}

func displayID(id string) string {
	if id == "" {
		return "(none)"
	}
	return id
}
