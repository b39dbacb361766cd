// Package output formats chatctl's terminal output.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/user/chatctl/internal/types"
)

// ColorMode is the ui.color setting.
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("invalid color mode %q: must be auto, always, or never", s)
	}
}

// ResolveColors decides whether to colour output. Auto honours NO_COLOR and
// TERM=dumb.
func ResolveColors(mode ColorMode) bool {
	switch mode {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		if _, ok := os.LookupEnv("NO_COLOR"); ok {
			return false
		}
		return os.Getenv("TERM") != "dumb"
	}
}

// Printer writes notices and transcripts. Writes are serialised so that
// notices from background work do not interleave mid-line.
type Printer struct {
	mu        sync.Mutex
	out       io.Writer
	err       io.Writer
	useColors bool
}

func NewPrinter(useColors bool) *Printer {
	return NewPrinterWithWriters(os.Stdout, os.Stderr, useColors)
}

func NewPrinterWithWriters(out, err io.Writer, useColors bool) *Printer {
	return &Printer{out: out, err: err, useColors: useColors}
}

func (p *Printer) Out() io.Writer {
	return p.out
}

func (p *Printer) write(w io.Writer, c *color.Color, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.useColors && c != nil {
		c.Fprintf(w, format, args...)
		return
	}
	fmt.Fprintf(w, format, args...)
}

func (p *Printer) Info(format string, args ...any) {
	p.write(p.out, color.New(color.FgCyan), format+"\n", args...)
}

func (p *Printer) Success(format string, args ...any) {
	if p.useColors {
		p.write(p.out, color.New(color.FgGreen), "✓ "+format+"\n", args...)
		return
	}
	p.write(p.out, nil, "[OK] "+format+"\n", args...)
}

func (p *Printer) Warning(format string, args ...any) {
	if p.useColors {
		p.write(p.err, color.New(color.FgYellow), "⚠ "+format+"\n", args...)
		return
	}
	p.write(p.err, nil, "[WARN] "+format+"\n", args...)
}

func (p *Printer) Error(format string, args ...any) {
	if p.useColors {
		p.write(p.err, color.New(color.FgRed), "✗ "+format+"\n", args...)
		return
	}
	p.write(p.err, nil, "[ERROR] "+format+"\n", args...)
}

func (p *Printer) Print(format string, args ...any) {
	p.write(p.out, nil, format+"\n", args...)
}

// Dim returns text in faint style.
func (p *Printer) Dim(text string) string {
	if p.useColors {
		return color.New(color.Faint).Sprint(text)
	}
	return text
}

func (p *Printer) Bold(text string) string {
	if p.useColors {
		return color.New(color.Bold).Sprint(text)
	}
	return text
}

// Label is the speaker prefix shown before a message.
func (p *Printer) Label(sender types.Sender) string {
	if sender == types.SenderUser {
		if p.useColors {
			return color.New(color.FgGreen, color.Bold).Sprint("you> ")
		}
		return "you> "
	}
	if p.useColors {
		return color.New(color.FgBlue, color.Bold).Sprint("assistant> ")
	}
	return "assistant> "
}

// Transcript prints a whole conversation.
func (p *Printer) Transcript(msgs []types.Message) {
	for _, m := range msgs {
		var b strings.Builder
		b.WriteString(p.Label(m.Sender))
		if m.Reasoning != "" {
			b.WriteString(p.Dim(strings.TrimSpace(m.Reasoning)))
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
		p.Print("%s", b.String())
	}
}

// Notices adapts a Printer to the controller's notifier.
type Notices struct {
	P *Printer
}

func (n Notices) Info(msg string)  { n.P.Info("%s", msg) }
func (n Notices) Warn(msg string)  { n.P.Warning("%s", msg) }
func (n Notices) Error(msg string) { n.P.Error("%s", msg) }
