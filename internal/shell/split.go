package shell

import (
	"regexp"
	"strings"
)

// SplitChain splits a command on chaining and pipe operators (&&, ||, ;, |)
// outside of quotes. Empty segments are dropped.
func SplitChain(command string) []string {
	return splitOutsideQuotes(command, func(s string, i int) int {
		switch {
		case strings.HasPrefix(s[i:], "&&"), strings.HasPrefix(s[i:], "||"):
			return 2
		case s[i] == ';', s[i] == '|':
			return 1
		}
		return 0
	})
}

// SplitPipeline splits a command on single pipe operators outside of quotes.
// "||" is a chain operator, not a pipe, and does not split here.
func SplitPipeline(command string) []string {
	return splitOutsideQuotes(command, func(s string, i int) int {
		if s[i] != '|' {
			return 0
		}
		if i+1 < len(s) && s[i+1] == '|' {
			return -2 // skip both chars, no split
		}
		return 1
	})
}

// splitOutsideQuotes scans command and splits wherever match reports an
// operator. match returns the operator width (>0 split, <0 skip without
// splitting, 0 no operator at this position).
func splitOutsideQuotes(command string, match func(s string, i int) int) []string {
	var segments []string
	var cur strings.Builder
	inSingle, inDouble := false, false

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			segments = append(segments, s)
		}
		cur.Reset()
	}

	for i := 0; i < len(command); i++ {
		c := command[i]
		switch {
		case c == '\\' && !inSingle && i+1 < len(command):
			cur.WriteByte(c)
			i++
			cur.WriteByte(command[i])
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			cur.WriteByte(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			cur.WriteByte(c)
		case !inSingle && !inDouble:
			switch n := match(command, i); {
			case n > 0:
				flush()
				i += n - 1
			case n < 0:
				cur.WriteString(command[i : i-n])
				i += -n - 1
			default:
				cur.WriteByte(c)
			}
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return segments
}

// Tokenize splits a command segment on whitespace, keeping quoted spans
// (including their quotes) as single tokens.
func Tokenize(segment string) []string {
	var tokens []string
	var cur strings.Builder
	inSingle, inDouble := false, false

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(segment); i++ {
		c := segment[i]
		switch {
		case c == '\\' && !inSingle && i+1 < len(segment):
			cur.WriteByte(c)
			i++
			cur.WriteByte(segment[i])
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			cur.WriteByte(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			cur.WriteByte(c)
		case (c == ' ' || c == '\t') && !inSingle && !inDouble:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return tokens
}

var (
	// fd duplications like 2>&1, >&2, 2>&- carry no target token.
	dupRedirRe = regexp.MustCompile(`^\d*>>?&-?\d*$`)
	// bare operators whose target is the following token.
	bareRedirRe = regexp.MustCompile(`^(\d*>>?|<|&>>?)$`)
	// operators with the target attached, like >out.txt or 2>/dev/null.
	attachedRedirRe = regexp.MustCompile(`^(\d*>>?|<|&>>?)[^&>\s]\S*$`)
)

// StripRedirections removes redirection tokens (2>&1, >, >>, <, and their
// targets) from a command segment so that list entries written without
// redirection still match commands that include one.
func StripRedirections(segment string) string {
	tokens := Tokenize(segment)
	kept := make([]string, 0, len(tokens))
	skipNext := false
	for _, tok := range tokens {
		switch {
		case skipNext:
			skipNext = false
		case dupRedirRe.MatchString(tok):
		case bareRedirRe.MatchString(tok):
			skipNext = true
		case attachedRedirRe.MatchString(tok):
		default:
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}
