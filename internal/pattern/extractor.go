// Package pattern derives generalized matching patterns from raw shell
// commands. A pattern keeps the base executable, recognized flags, and
// (for a few well-known tools) the subcommand, while dropping variable
// parts: file paths, URLs, numbers, and quoted values. Patterns are the
// keys used for allowlist/denylist matching.
package pattern

import (
	"regexp"
	"strings"

	"cmdgate/internal/shell"
)

// subcommandBases keeps the second token when it is purely alphabetic,
// so "git push --force origin" generalizes to "git push --force".
var subcommandBases = map[string]bool{
	"git":    true,
	"npm":    true,
	"yarn":   true,
	"pnpm":   true,
	"docker": true,
}

// separatorBases truncate at a literal "--": everything after it is
// forwarded to an underlying script and never part of the pattern.
var separatorBases = map[string]bool{
	"npm":  true,
	"yarn": true,
	"pnpm": true,
}

var (
	// -x, -la, --verbose, --depth=1; a leading dash followed by digits
	// (-100) is a numeric value, not a flag, and is not matched here.
	flagRe  = regexp.MustCompile(`^--?[A-Za-z][A-Za-z0-9_-]*(=\S*)?$`)
	alphaRe = regexp.MustCompile(`^[A-Za-z]+$`)
)

// Extract derives the generalized pattern for a command. The command is
// split on chaining and pipe operators; each segment is generalized
// independently and the results are rejoined with "&&" regardless of the
// original operator, so equivalent command shapes share one pattern.
// Empty input is returned unchanged. Extract is idempotent on patterns
// already in generalized form.
func Extract(command string) string {
	if strings.TrimSpace(command) == "" {
		return command
	}

	segments := shell.SplitChain(command)
	if len(segments) == 0 {
		return command
	}

	patterns := make([]string, 0, len(segments))
	for _, seg := range segments {
		patterns = append(patterns, extractSegment(seg))
	}
	return strings.Join(patterns, " && ")
}

func extractSegment(segment string) string {
	tokens := shell.Tokenize(segment)
	if len(tokens) == 0 {
		return strings.TrimSpace(segment)
	}

	base := tokens[0]
	rest := tokens[1:]

	if separatorBases[base] {
		for i, tok := range rest {
			if tok == "--" {
				rest = rest[:i]
				break
			}
		}
	}

	parts := []string{base}
	for i, tok := range rest {
		if i == 0 && subcommandBases[base] && alphaRe.MatchString(tok) {
			parts = append(parts, tok)
			continue
		}
		if flagRe.MatchString(tok) {
			parts = append(parts, tok)
		}
		// Everything else (paths, URLs, numbers, quoted values, free
		// arguments) is a variable part and stays out of the pattern.
	}
	return strings.Join(parts, " ")
}
