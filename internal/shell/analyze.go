package shell

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// HasSubstitution reports whether the command contains command substitution
// ($(...) or backticks) or process substitution (<(...), >(...)).
// Commands that fail to parse are treated as containing substitution:
// text we cannot statically analyze must not be auto-approved.
func HasSubstitution(command string) bool {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return true
	}

	found := false
	syntax.Walk(file, func(node syntax.Node) bool {
		if found {
			return false
		}
		switch node.(type) {
		case *syntax.CmdSubst, *syntax.ProcSubst:
			found = true
			return false
		}
		return true
	})
	return found
}
