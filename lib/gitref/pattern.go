// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package gitref

import (
	"fmt"
	"regexp"
	"strings"
)

// Pattern is a compiled trigger filter pattern. The syntax:
//
//	*      any run of characters except /
//	**     any run of characters including /
//	?      any single character except /
//	[a-z]  character class
//	!pat   (leading, whole-pattern) negation
//
// Patterns match the short ref name ("v1.0.0", not "refs/tags/v1.0.0")
// and must cover the whole name. "v*" matches "v1.0.0" but not "x/v1":
// a release tag filter never reaches across slashes unless it says so
// with **.
type Pattern struct {
	raw     string
	negated bool
	matcher *regexp.Regexp
}

// CompilePattern compiles one filter pattern.
func CompilePattern(raw string) (Pattern, error) {
	if raw == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}

	source := raw
	negated := false
	if source[0] == '!' {
		negated = true
		source = source[1:]
		if source == "" {
			return Pattern{}, fmt.Errorf("pattern %q negates nothing", raw)
		}
	}

	expression, err := translate(source)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", raw, err)
	}
	matcher, err := regexp.Compile("^" + expression + "$")
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %q: %w", raw, err)
	}

	return Pattern{raw: raw, negated: negated, matcher: matcher}, nil
}

// CompileList compiles a pattern list in order.
func CompileList(raws []string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(raws))
	for _, raw := range raws {
		pattern, err := CompilePattern(raw)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, pattern)
	}
	return patterns, nil
}

// String returns the original pattern text.
func (p Pattern) String() string { return p.raw }

// Negated reports whether the pattern is an exclusion.
func (p Pattern) Negated() bool { return p.negated }

// Matches reports whether the short name matches the pattern body
// (ignoring negation; MatchAny applies negation ordering).
func (p Pattern) Matches(shortName string) bool {
	return p.matcher.MatchString(shortName)
}

// MatchAny evaluates a pattern list against a short ref name. Patterns
// apply in order and the last matching pattern decides: a negated
// match after a positive one excludes the name, and a later positive
// match re-includes it. A list of only negated patterns matches
// nothing (there is no implicit match-all).
func MatchAny(patterns []Pattern, shortName string) bool {
	matched := false
	for _, pattern := range patterns {
		if pattern.Matches(shortName) {
			matched = !pattern.negated
		}
	}
	return matched
}

// translate converts the filter syntax to a regular expression.
func translate(pattern string) (string, error) {
	var out strings.Builder
	runes := []rune(pattern)
	for index := 0; index < len(runes); index++ {
		character := runes[index]
		switch character {
		case '*':
			if index+1 < len(runes) && runes[index+1] == '*' {
				out.WriteString(".*")
				index++
			} else {
				out.WriteString("[^/]*")
			}
		case '?':
			out.WriteString("[^/]")
		case '[':
			class, consumed, err := translateClass(runes[index:])
			if err != nil {
				return "", err
			}
			out.WriteString(class)
			index += consumed - 1
		default:
			out.WriteString(regexp.QuoteMeta(string(character)))
		}
	}
	return out.String(), nil
}

// translateClass consumes a [...] character class starting at runes[0]
// and returns its regexp form and the number of runes consumed. Class
// contents pass through except that a leading ! is normalized to ^.
func translateClass(runes []rune) (string, int, error) {
	var out strings.Builder
	out.WriteByte('[')
	index := 1
	if index < len(runes) && (runes[index] == '!' || runes[index] == '^') {
		out.WriteByte('^')
		index++
	}
	closed := false
	for ; index < len(runes); index++ {
		if runes[index] == ']' && out.Len() > 1 {
			closed = true
			index++
			break
		}
		if runes[index] == '\\' {
			out.WriteString("\\\\")
			continue
		}
		out.WriteRune(runes[index])
	}
	if !closed {
		return "", 0, fmt.Errorf("unterminated character class")
	}
	out.WriteByte(']')
	return out.String(), index, nil
}
