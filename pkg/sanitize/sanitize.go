// Package sanitize makes attacker-controlled URLs safe to print on a terminal.
package sanitize

import "strings"

// URL renders u for console output: control bytes and escape sequences are
// replaced by visible markers and invalid UTF-8 becomes U+FFFD. The length is
// left alone.
func URL(u string) string {
	return Terminal(strings.ToValidUTF8(u, "\uFFFD"))
}

// Terminal replaces control characters so the string cannot move the cursor,
// clear the screen or recolour output. CSI sequences collapse to "[ESC]".
func Terminal(s string) string {
	if !needsSanitizing(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 16)

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == 0x1B:
			if i+1 < len(s) && s[i+1] == '[' {
				i += 2
				for i < len(s) && !isCSIFinal(s[i]) {
					i++
				}
			}
			b.WriteString("[ESC]")
		case c == '\t' || c == '\n':
			b.WriteByte(' ')
		case c == '\r':
			b.WriteString("[CR]")
		case c == 0x7F:
			b.WriteString("[DEL]")
		case c < 0x20:
			b.WriteString("[CTRL]")
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func needsSanitizing(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7F {
			return true
		}
	}
	return false
}

func isCSIFinal(c byte) bool {
	return c >= 0x40 && c <= 0x7E
}
