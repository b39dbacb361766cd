package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/chatctl/internal/output"
	"github.com/user/chatctl/internal/types"
)

func init() {
	rootCmd.AddCommand(conversationCmd)
	conversationCmd.AddCommand(conversationListCmd, conversationNewCmd, conversationRenameCmd, conversationDeleteCmd)
}

var conversationCmd = &cobra.Command{
	Use:     "conversation",
	Aliases: []string{"conv"},
	Short:   "Manage conversations",
}

var conversationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recently updated first",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if err := a.ctrl.RefreshConversations(ctx); err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		convs := a.ctrl.Conversations()
		if len(convs) == 0 {
			a.printer.Print("No conversations found.")
			return nil
		}
		tbl := output.NewTable(a.printer.Out(), []string{"ID", "TITLE", "UPDATED"})
		for _, c := range convs {
			tbl.AddRow(string(c.ID), c.Title, c.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return tbl.Render()
	}),
}

var conversationNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a conversation",
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if err := a.ctrl.RefreshConversations(ctx); err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		conv, err := a.ctrl.NewConversation(ctx)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		name := conv.Title
		if len(args) > 0 {
			name = strings.Join(args, " ")
			if err := a.ctrl.RenameConversation(ctx, conv.ID, name); err != nil {
				return fmt.Errorf("rename conversation: %w", err)
			}
		}
		a.printer.Success("Created conversation %s (%s)", conv.ID, name)
		return nil
	}),
}

var conversationRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		name := strings.TrimSpace(strings.Join(args[1:], " "))
		if name == "" {
			return fmt.Errorf("title must not be empty")
		}
		if err := a.ctrl.RenameConversation(ctx, types.ConversationID(args[0]), name); err != nil {
			return fmt.Errorf("rename conversation: %w", err)
		}
		a.printer.Success("Renamed %s to %q", args[0], name)
		return nil
	}),
}

var conversationDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, args []string) error {
		if err := a.ctrl.DeleteConversation(ctx, types.ConversationID(args[0])); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		a.printer.Success("Deleted conversation %s", args[0])
		return nil
	}),
}
