// internal/title/builder.go
package title

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxInputTokens bounds the user text embedded in a title prompt.
const DefaultMaxInputTokens = 256

// maxTitleRunes caps a cleaned title.
const maxTitleRunes = 50

// Builder assembles token-budgeted title prompts.
type Builder struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	tmpl      *template.Template
}

// New creates a builder for locale. When the tokenizer cannot be loaded the
// budget is estimated from rune counts instead.
func New(locale string, maxTokens int) (*Builder, error) {
	b, err := NewApprox(locale, maxTokens)
	if err != nil {
		return nil, err
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Debug("tokenizer unavailable, estimating title budget", "error", err)
		return b, nil
	}
	b.tokenizer = enc
	return b, nil
}

// NewApprox creates a builder that never loads a tokenizer.
func NewApprox(locale string, maxTokens int) (*Builder, error) {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxInputTokens
	}

	text := englishPrompt
	if MatchLocale(locale) == language.Chinese {
		text = chinesePrompt
	}
	tmpl, err := template.New("title").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse title template: %w", err)
	}
	return &Builder{maxTokens: maxTokens, tmpl: tmpl}, nil
}

// Prompt renders the title prompt for the first user message.
func (b *Builder) Prompt(userText string) (string, error) {
	var buf bytes.Buffer
	data := PromptData{Text: b.truncate(strings.TrimSpace(userText))}
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render title prompt: %w", err)
	}
	return buf.String(), nil
}

// truncate cuts text to the token budget.
func (b *Builder) truncate(text string) string {
	if b.tokenizer == nil {
		// roughly one token per CJK rune and per four Latin bytes
		limit := b.maxTokens * 2
		if utf8.RuneCountInString(text) <= limit {
			return text
		}
		return string([]rune(text)[:limit])
	}

	tokens := b.tokenizer.Encode(text, nil, nil)
	if len(tokens) <= b.maxTokens {
		return text
	}
	return strings.ToValidUTF8(b.tokenizer.Decode(tokens[:b.maxTokens]), "")
}

// Clean normalizes a generated title: NFC, first non-empty line, surrounding
// quotes and trailing punctuation removed, whitespace collapsed, length capped.
func Clean(raw string) string {
	s := norm.NFC.String(raw)

	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			s = line
			break
		}
	}

	s = strings.Join(strings.Fields(s), " ")
	for _, prefix := range []string{"Title:", "title:", "标题：", "标题:"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(`"'“”‘’「」《》`+"`", r)
	})
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) && r != ')' && r != '）'
	})

	if utf8.RuneCountInString(s) > maxTitleRunes {
		s = strings.TrimSpace(string([]rune(s)[:maxTitleRunes]))
	}
	return s
}
