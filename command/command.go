// Package command recognizes merge commands in pull-request comment
// bodies. It is a standalone collaborator so the pure event handler in
// package queue only ever observes a boolean.
package command

import (
	"regexp"
	"strings"
)

// Parser decides whether a comment body is a merge command.
type Parser interface {
	IsMergeCommand(body string) bool
}

// Matcher is the default Parser: the configured prefix, one or more spaces
// or tabs, then the text "merge" as an infix anywhere in the (trimmed)
// body. No word boundary is required after "merge".
//
// Matching is case-insensitive via regexp's (?i) flag, which folds case
// per-codepoint; this covers the common ASCII/Latin case used by bot
// prefixes like "@bot" but is not full Unicode case-folding (e.g. Turkish
// dotless-i). Only the resulting boolean matters to callers, so swapping
// Matcher for a stricter line-oriented Parser later is a drop-in.
type Matcher struct {
	re *regexp.Regexp
}

// NewMatcher builds a Matcher for the given command prefix, e.g. "@bot".
func NewMatcher(prefix string) *Matcher {
	pattern := "(?i)" + regexp.QuoteMeta(prefix) + `[ \t]+merge`
	return &Matcher{re: regexp.MustCompile(pattern)}
}

// IsMergeCommand reports whether body contains the prefix, spaces or tabs,
// and "merge" as an infix, after trimming surrounding whitespace.
func (m *Matcher) IsMergeCommand(body string) bool {
	return m.re.MatchString(strings.TrimSpace(body))
}
