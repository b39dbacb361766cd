package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/user/chatctl/internal/chat"
	"github.com/user/chatctl/internal/output"
	"github.com/user/chatctl/internal/types"
	"github.com/user/chatctl/pkg/chatapi"
)

var chatConversation string

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatConversation, "conversation", "c", "", "conversation to open")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat",
	Args:  cobra.NoArgs,
	RunE:  withApp(runChat),
}

const chatHelp = `Commands:
  /new               start a new conversation
  /switch <id>       open a conversation
  /list              list conversations
  /rename <title>    rename the open conversation
  /delete            delete the open conversation
  /provider [id]     list or select providers
  /model [id]        list or select models
  /stream on|off     toggle streamed replies
  /quit              leave
Ctrl-C cancels a reply in progress.`

type repl struct {
	a        *app
	renderer *output.Renderer
	line     *liner.State
	history  string
}

func runChat(ctx context.Context, a *app, _ []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.ctrl.Bootstrap(ctx); err != nil {
		if errors.Is(err, chatapi.ErrUnauthorized) {
			return fmt.Errorf("not signed in, run \"chatctl auth token <jwt>\": %w", err)
		}
		a.printer.Warning("Startup incomplete: %v", err)
	}

	r := &repl{
		a:        a,
		renderer: output.NewRenderer(a.printer, a.cfg.UI.RefreshHz),
		line:     liner.NewLiner(),
		history:  filepath.Join(a.cfg.DataDir, "chat_history"),
	}
	defer r.close()
	r.line.SetCtrlCAborts(true)
	r.loadHistory()

	a.ctrl.Transcript().OnChange(r.renderer.Notify)
	go r.renderer.Run(ctx, a.ctrl.Transcript().Snapshot)

	// Ctrl-C outside the prompt cancels the reply in flight.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigChan:
				a.ctrl.Cancel()
			}
		}
	}()

	if err := r.open(ctx); err != nil {
		a.printer.Error("%v", err)
	}

	for {
		input, err := r.line.Prompt("chatctl> ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				return err
			}
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			more, err := r.command(ctx, input)
			if err != nil {
				a.printer.Error("%v", err)
			}
			if !more {
				return nil
			}
			continue
		}
		r.send(ctx, input)
	}
}

// open selects the requested conversation, or the most recent one.
func (r *repl) open(ctx context.Context) error {
	id := types.ConversationID(chatConversation)
	if id == "" {
		convs := r.a.ctrl.Conversations()
		if len(convs) == 0 {
			r.a.printer.Info("No conversations yet. Type a message to start one.")
			return nil
		}
		id = convs[0].ID
	}
	return r.switchTo(ctx, id)
}

func (r *repl) switchTo(ctx context.Context, id types.ConversationID) error {
	if err := r.a.ctrl.SelectConversation(ctx, id); err != nil {
		return err
	}
	r.a.printer.Info("── %s ──", r.titleOf(id))
	r.a.printer.Transcript(r.a.ctrl.Transcript().Snapshot())
	return nil
}

func (r *repl) titleOf(id types.ConversationID) string {
	for _, c := range r.a.ctrl.Conversations() {
		if c.ID == id {
			return c.Title
		}
	}
	return string(id)
}

func (r *repl) send(ctx context.Context, text string) {
	if r.a.ctrl.Active() == "" {
		conv, err := r.a.ctrl.NewConversation(ctx)
		if err != nil {
			r.a.printer.Error("Could not create a conversation: %v", err)
			return
		}
		r.a.printer.Info("── %s ──", conv.Title)
	}
	active := r.a.ctrl.Active()
	before := r.titleOf(active)

	r.a.ctrl.SetInput(text)
	// The reply lands after the optimistic user message.
	r.renderer.Begin(r.a.ctrl.Transcript().Len() + 1)
	outcome, err := r.a.ctrl.Send(ctx)
	r.renderer.Finish(r.a.ctrl.Transcript().Snapshot())

	switch {
	case outcome == chat.OutcomeCancelled:
		r.a.printer.Warning("Cancelled.")
	case errors.Is(err, chat.ErrBusy):
		r.a.printer.Warning("Still busy, try again in a moment.")
	case outcome.Succeeded():
		if after := r.titleOf(active); after != before {
			r.a.printer.Info("Titled %q", after)
		}
	}
}

// command runs a slash command. It returns false when the session should end.
func (r *repl) command(ctx context.Context, input string) (bool, error) {
	name, arg := splitCommand(input)
	ctrl := r.a.ctrl
	switch name {
	case "/quit", "/exit":
		return false, nil
	case "/help":
		r.a.printer.Print(chatHelp)
	case "/new":
		if err := ctrl.RefreshConversations(ctx); err != nil {
			return true, err
		}
		conv, err := ctrl.NewConversation(ctx)
		if err != nil {
			return true, err
		}
		r.a.printer.Info("── %s ──", conv.Title)
	case "/switch":
		if arg == "" {
			return true, fmt.Errorf("usage: /switch <id>")
		}
		return true, r.switchTo(ctx, types.ConversationID(arg))
	case "/list":
		if err := ctrl.RefreshConversations(ctx); err != nil {
			return true, err
		}
		tbl := output.NewTable(r.a.printer.Out(), []string{"", "ID", "TITLE"})
		for _, c := range ctrl.Conversations() {
			tbl.AddRow(marker(c.ID == ctrl.Active()), string(c.ID), c.Title)
		}
		return true, tbl.Render()
	case "/rename":
		if ctrl.Active() == "" || arg == "" {
			return true, fmt.Errorf("usage: /rename <title> with a conversation open")
		}
		return true, ctrl.RenameConversation(ctx, ctrl.Active(), arg)
	case "/delete":
		id := ctrl.Active()
		if id == "" {
			return true, chat.ErrNoConversation
		}
		if err := ctrl.DeleteConversation(ctx, id); err != nil {
			return true, err
		}
		r.a.printer.Success("Deleted %s", id)
	case "/provider":
		return true, r.provider(ctx, arg)
	case "/model":
		return true, r.model(ctx, arg)
	case "/stream":
		on, err := parseOnOff(arg)
		if err != nil {
			return true, err
		}
		if err := ctrl.SetStreaming(ctx, on); err != nil {
			return true, err
		}
		r.a.printer.Success("Streaming %s", arg)
	default:
		return true, fmt.Errorf("unknown command %s, try /help", name)
	}
	return true, nil
}

func (r *repl) provider(ctx context.Context, arg string) error {
	sel := r.a.sel
	if arg != "" {
		if err := sel.SelectProvider(ctx, types.ProviderID(arg)); err != nil {
			return err
		}
		r.a.printer.Success("Provider %s, model %s", arg, displayID(string(sel.Selection().ModelID)))
		return nil
	}
	tbl := output.NewTable(r.a.printer.Out(), []string{"", "ID", "NAME"})
	for _, p := range sel.Providers() {
		tbl.AddRow(marker(p.ID == sel.Selection().ProviderID), string(p.ID), p.Name)
	}
	return tbl.Render()
}

func (r *repl) model(ctx context.Context, arg string) error {
	sel := r.a.sel
	if arg != "" {
		if err := sel.SelectModel(ctx, types.ModelID(arg)); err != nil {
			return err
		}
		r.a.printer.Success("Model %s", arg)
		return nil
	}
	tbl := output.NewTable(r.a.printer.Out(), []string{"", "ID", "NAME"})
	for _, m := range sel.Models() {
		tbl.AddRow(marker(m.ID == sel.Selection().ModelID), string(m.ID), m.Name)
	}
	return tbl.Render()
}

func splitCommand(input string) (name, arg string) {
	name, arg, _ = strings.Cut(strings.TrimSpace(input), " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	default:
		return false, fmt.Errorf("usage: /stream on|off")
	}
}

func (r *repl) loadHistory() {
	if f, err := os.Open(r.history); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
}

func (r *repl) close() {
	if f, err := os.OpenFile(r.history, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
		r.line.WriteHistory(f)
		f.Close()
	}
	r.line.Close()
}
