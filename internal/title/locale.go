// internal/title/locale.go
package title

import (
	"fmt"

	"golang.org/x/text/language"
)

var supported = []language.Tag{
	language.English,
	language.Chinese,
}

// MatchLocale maps a user locale string such as "zh-CN" or "en_US.UTF-8" onto
// a supported language by its base language. Unknown or empty input yields
// English.
func MatchLocale(locale string) language.Tag {
	tag, err := language.Parse(normalizeLocale(locale))
	if err != nil {
		return language.English
	}
	base, _ := tag.Base()
	for _, s := range supported {
		if b, _ := s.Base(); b == base {
			return s
		}
	}
	return language.English
}

// normalizeLocale turns POSIX locale names into BCP 47.
func normalizeLocale(locale string) string {
	out := make([]rune, 0, len(locale))
	for _, r := range locale {
		switch r {
		case '.', '@':
			return string(out)
		case '_':
			out = append(out, '-')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// DefaultConversationTitle names the n-th conversation in the given locale.
func DefaultConversationTitle(locale string, n int) string {
	if MatchLocale(locale) == language.Chinese {
		return fmt.Sprintf("新对话 %d", n)
	}
	return fmt.Sprintf("New chat %d", n)
}
