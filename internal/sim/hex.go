package sim

import "strings"

const hexDigits = "0123456789ABCDEF"

// BytesToHex renders bytes as space-separated uppercase hex pairs,
// e.g. {0x48, 0x69} -> "48 69".
func BytesToHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteByte(hexDigits[v>>4])
		sb.WriteByte(hexDigits[v&0x0F])
	}
	return sb.String()
}

// HexToBytes parses a literal hex byte string like "41 6f 54" into its
// byte values. Whitespace is stripped first. Parsing is lenient the way
// simulation files expect: a digit that is not hex counts as zero, and
// a trailing lone digit is taken as a single low nibble.
func HexToBytes(s string) []byte {
	stripped := StripWhitespace(s)
	if stripped == "" {
		return nil
	}
	out := make([]byte, 0, len(stripped)/2+len(stripped)%2)
	for i := 0; i < len(stripped); i += 2 {
		if i+1 < len(stripped) {
			out = append(out, hexNibble(stripped[i])<<4|hexNibble(stripped[i+1]))
		} else {
			out = append(out, hexNibble(stripped[i]))
		}
	}
	return out
}

// StripWhitespace removes spaces, tabs, and line breaks.
func StripWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, s)
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}
