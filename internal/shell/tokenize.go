package shell

import "strings"

// tokenize splits a command line into tokens, honoring single and double
// quotes and backslash escapes:
//
//	connect "/dev/serial/by-id/usb-Arduino Uno" 9600
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
		have  bool
	)
	flush := func() {
		if have {
			out = append(out, buf.String())
			buf.Reset()
			have = false
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case esc:
			buf.WriteByte(ch)
			esc, have = false, true
		case ch == '\\':
			esc = true
		case inQ && ch == qChar:
			inQ = false
		case inQ:
			buf.WriteByte(ch)
		case ch == '"' || ch == '\'':
			inQ, qChar, have = true, ch, true
		case ch == ' ' || ch == '\t':
			flush()
		default:
			buf.WriteByte(ch)
			have = true
		}
	}
	flush()
	return out
}
