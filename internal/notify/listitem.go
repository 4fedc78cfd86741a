package notify

import (
	"strings"

	"offerwall/reconciler-service/internal/model"
)

// One offer per line:
//
//	- <name> | <country> | <platform> | <payout model>[ | <network>]
//
// Inside the name, '\' is written as "\\" and '|' as "\|". Whitespace runs
// are collapsed to one space so an entry never spans lines. RenderItem and
// ExtractItems are the only code that may produce or read this format.
const (
	itemPrefix = "- "
	fieldSep   = " | "
)

// RenderItem formats a single offer as a list-item line (without newline).
func RenderItem(c model.CandidateOffer) string {
	var b strings.Builder
	b.WriteString(itemPrefix)
	b.WriteString(escapeName(c.Name))
	for _, f := range []string{c.Country, c.Platform, c.PayoutModel} {
		b.WriteString(fieldSep)
		b.WriteString(flatten(f))
	}
	if c.Network != "" {
		b.WriteString(fieldSep)
		b.WriteString(flatten(c.Network))
	}
	return b.String()
}

// ExtractItems returns the offer names of every list-item line in body, in
// order of appearance. Lines not starting with "- " are ignored.
func ExtractItems(body string) []string {
	names := make([]string, 0)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, itemPrefix) {
			continue
		}
		if name := readName(line[len(itemPrefix):]); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func escapeName(s string) string {
	s = flatten(s)
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "|", `\|`)
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// readName unescapes up to the first unescaped '|'.
func readName(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '|':
			return strings.TrimSpace(b.String())
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
