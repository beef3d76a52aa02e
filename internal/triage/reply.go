package triage

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

type replyKind int

const (
	replyOther replyKind = iota
	replyYes
	replyNo
	replyCommand
)

var (
	affirmative = map[string]bool{"si": true, "yes": true, "y": true}
	negative    = map[string]bool{"no": true, "n": true}
)

const maxNameRunes = 64

// fold lower-cases and strips accents so "Sí" and "si" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = strings.TrimSpace(s)
	}
	return cases.Fold().String(out)
}

// classify sorts a reviewer message into yes, no, a slash command, or free text.
// For commands the returned token is the command name without "/" or "@bot".
func classify(text string) (replyKind, string) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/") {
		cmd := strings.Fields(trimmed)[0][1:]
		if at := strings.IndexByte(cmd, '@'); at >= 0 {
			cmd = cmd[:at]
		}
		return replyCommand, strings.ToLower(cmd)
	}
	f := strings.TrimRight(fold(trimmed), ".!")
	switch {
	case affirmative[f]:
		return replyYes, f
	case negative[f]:
		return replyNo, f
	}
	return replyOther, trimmed
}

// normalizeName turns free text into an identity name: whitespace collapsed,
// lower-cased, first letter upper-cased ("ana maria" -> "Ana maria").
// Only letters, spaces, hyphens and apostrophes are accepted.
func normalizeName(text string) (string, bool) {
	name := strings.Join(strings.Fields(norm.NFC.String(text)), " ")
	if name == "" || len([]rune(name)) > maxNameRunes {
		return "", false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && r != ' ' && r != '-' && r != '\'' {
			return "", false
		}
	}
	lower := cases.Lower(language.Und).String(name)
	first := []rune(lower)[0]
	rest := lower[len(string(first)):]
	return cases.Upper(language.Und).String(string(first)) + rest, true
}
