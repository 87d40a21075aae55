// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package gitref provides typed git reference values and the filter
// pattern matching used by workflow triggers.
//
// A Ref is always fully qualified ("refs/tags/v1.0.0",
// "refs/heads/main"). The distinct constructors and Kind accessor
// exist so trigger evaluation cannot confuse a tag push with a branch
// push at compile time.
package gitref

import "fmt"

// Kind classifies a reference.
type Kind string

const (
	// KindTag is a reference under refs/tags/.
	KindTag Kind = "tag"

	// KindBranch is a reference under refs/heads/.
	KindBranch Kind = "branch"
)

const (
	tagPrefix    = "refs/tags/"
	branchPrefix = "refs/heads/"
)

// Ref is a validated, fully qualified git reference.
type Ref struct {
	kind  Kind
	short string
}

// Parse parses a fully qualified reference. Only refs/tags/ and
// refs/heads/ references are accepted; anything else (refs/pull/,
// HEAD, a bare name) is an error so callers are forced to state
// which namespace they mean.
func Parse(full string) (Ref, error) {
	switch {
	case len(full) > len(tagPrefix) && full[:len(tagPrefix)] == tagPrefix:
		return NewTag(full[len(tagPrefix):])
	case len(full) > len(branchPrefix) && full[:len(branchPrefix)] == branchPrefix:
		return NewBranch(full[len(branchPrefix):])
	default:
		return Ref{}, fmt.Errorf("reference %q is not under refs/tags/ or refs/heads/", full)
	}
}

// NewTag creates a tag reference from a short name ("v1.0.0").
func NewTag(name string) (Ref, error) {
	if err := validateShortName(name); err != nil {
		return Ref{}, fmt.Errorf("tag name %q: %w", name, err)
	}
	return Ref{kind: KindTag, short: name}, nil
}

// NewBranch creates a branch reference from a short name ("main").
func NewBranch(name string) (Ref, error) {
	if err := validateShortName(name); err != nil {
		return Ref{}, fmt.Errorf("branch name %q: %w", name, err)
	}
	return Ref{kind: KindBranch, short: name}, nil
}

// validateShortName enforces the subset of git's ref name rules that
// matter for trigger matching: non-empty, no leading/trailing slash,
// no "..", no control characters, spaces, or glob metacharacters.
func validateShortName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name")
	}
	if name[0] == '/' || name[len(name)-1] == '/' {
		return fmt.Errorf("leading or trailing slash")
	}
	previous := rune(0)
	for _, character := range name {
		switch {
		case character < 0x20 || character == 0x7f:
			return fmt.Errorf("control character")
		case character == ' ' || character == '~' || character == '^' ||
			character == ':' || character == '?' || character == '*' ||
			character == '[' || character == '\\':
			return fmt.Errorf("forbidden character %q", character)
		case character == '.' && previous == '.':
			return fmt.Errorf("contains \"..\"")
		}
		previous = character
	}
	return nil
}

// Kind returns the reference kind.
func (r Ref) Kind() Kind { return r.kind }

// IsTag reports whether the reference is a tag.
func (r Ref) IsTag() bool { return r.kind == KindTag }

// IsBranch reports whether the reference is a branch.
func (r Ref) IsBranch() bool { return r.kind == KindBranch }

// Short returns the name without the refs/ prefix ("v1.0.0", "main").
func (r Ref) Short() string { return r.short }

// String returns the fully qualified reference.
func (r Ref) String() string {
	switch r.kind {
	case KindTag:
		return tagPrefix + r.short
	case KindBranch:
		return branchPrefix + r.short
	default:
		return ""
	}
}

// IsZero reports whether the reference is the zero value.
func (r Ref) IsZero() bool { return r.kind == "" }

// MarshalText implements encoding.TextMarshaler so Refs serialize as
// their fully qualified form in CBOR and JSON.
func (r Ref) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return nil, fmt.Errorf("cannot marshal zero reference")
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Ref) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
