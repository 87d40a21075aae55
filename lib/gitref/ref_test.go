// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package gitref

import "testing"

func TestParseTagRef(t *testing.T) {
	ref, err := Parse("refs/tags/v1.0.0")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !ref.IsTag() || ref.IsBranch() {
		t.Fatalf("kind = %q, want tag", ref.Kind())
	}
	if ref.Short() != "v1.0.0" {
		t.Fatalf("Short() = %q", ref.Short())
	}
	if ref.String() != "refs/tags/v1.0.0" {
		t.Fatalf("String() = %q", ref.String())
	}
}

func TestParseBranchRef(t *testing.T) {
	ref, err := Parse("refs/heads/main")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !ref.IsBranch() {
		t.Fatalf("kind = %q, want branch", ref.Kind())
	}
	if ref.Short() != "main" {
		t.Fatalf("Short() = %q", ref.Short())
	}
}

func TestParseRejectsOtherNamespaces(t *testing.T) {
	for _, full := range []string{
		"",
		"HEAD",
		"v1.0.0",
		"refs/pull/7/head",
		"refs/tags/",
		"refs/heads/",
	} {
		if _, err := Parse(full); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", full)
		}
	}
}

func TestNewTagValidation(t *testing.T) {
	for _, name := range []string{"", "/v1", "v1/", "a..b", "has space", "star*"} {
		if _, err := NewTag(name); err == nil {
			t.Errorf("NewTag(%q) succeeded, want error", name)
		}
	}
	for _, name := range []string{"v1.0.0", "v2.3-rc1", "release/2026.03", "v0.0.1"} {
		if _, err := NewTag(name); err != nil {
			t.Errorf("NewTag(%q): %v", name, err)
		}
	}
}

func TestRefTextRoundTrip(t *testing.T) {
	original, err := NewTag("v1.2.3")
	if err != nil {
		t.Fatalf("NewTag: %v", err)
	}
	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var decoded Ref
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if decoded != original {
		t.Fatalf("round trip changed ref: %v != %v", decoded, original)
	}
}

func TestMarshalZeroRefFails(t *testing.T) {
	var zero Ref
	if _, err := zero.MarshalText(); err == nil {
		t.Fatal("MarshalText on zero ref succeeded")
	}
}

func TestPatternReleaseTagContract(t *testing.T) {
	// The release workflow triggers on tags matching v*.
	patterns, err := CompileList([]string{"v*"})
	if err != nil {
		t.Fatalf("CompileList: %v", err)
	}

	for _, name := range []string{"v1.0.0", "v2.3-rc1", "v0.0.1", "v1", "v"} {
		if !MatchAny(patterns, name) {
			t.Errorf("v* did not match %q", name)
		}
	}
	for _, name := range []string{"release-1", "x/v1", "1.0.0", "V1.0.0"} {
		if MatchAny(patterns, name) {
			t.Errorf("v* matched %q", name)
		}
	}
}

func TestPatternDoubleStarCrossesSlashes(t *testing.T) {
	patterns, err := CompileList([]string{"release/**"})
	if err != nil {
		t.Fatalf("CompileList: %v", err)
	}
	if !MatchAny(patterns, "release/2026/03") {
		t.Error("release/** did not match release/2026/03")
	}

	single, err := CompileList([]string{"release/*"})
	if err != nil {
		t.Fatalf("CompileList: %v", err)
	}
	if MatchAny(single, "release/2026/03") {
		t.Error("release/* matched across a slash")
	}
	if !MatchAny(single, "release/2026.03") {
		t.Error("release/* did not match release/2026.03")
	}
}

func TestPatternQuestionMark(t *testing.T) {
	patterns, err := CompileList([]string{"v?.?"})
	if err != nil {
		t.Fatalf("CompileList: %v", err)
	}
	if !MatchAny(patterns, "v1.2") {
		t.Error("v?.? did not match v1.2")
	}
	if MatchAny(patterns, "v12.3") {
		t.Error("v?.? matched v12.3")
	}
	if MatchAny(patterns, "v1/2") {
		t.Error("? matched a slash")
	}
}

func TestPatternCharacterClass(t *testing.T) {
	patterns, err := CompileList([]string{"v[0-9].*"})
	if err != nil {
		t.Fatalf("CompileList: %v", err)
	}
	if !MatchAny(patterns, "v1.0") {
		t.Error("v[0-9].* did not match v1.0")
	}
	if MatchAny(patterns, "vx.0") {
		t.Error("v[0-9].* matched vx.0")
	}
}

func TestPatternNegationLastMatchWins(t *testing.T) {
	patterns, err := CompileList([]string{"v*", "!v*-rc*"})
	if err != nil {
		t.Fatalf("CompileList: %v", err)
	}
	if !MatchAny(patterns, "v1.0.0") {
		t.Error("v1.0.0 excluded unexpectedly")
	}
	if MatchAny(patterns, "v1.0.0-rc1") {
		t.Error("v1.0.0-rc1 not excluded by !v*-rc*")
	}

	// A later positive pattern re-includes.
	reinclude, err := CompileList([]string{"v*", "!v*-rc*", "v1.0.0-rc1"})
	if err != nil {
		t.Fatalf("CompileList: %v", err)
	}
	if !MatchAny(reinclude, "v1.0.0-rc1") {
		t.Error("explicit pattern after negation did not re-include")
	}
}

func TestPatternOnlyNegationsMatchNothing(t *testing.T) {
	patterns, err := CompileList([]string{"!main"})
	if err != nil {
		t.Fatalf("CompileList: %v", err)
	}
	if MatchAny(patterns, "develop") {
		t.Error("negation-only list matched a name")
	}
}

func TestCompilePatternErrors(t *testing.T) {
	for _, raw := range []string{"", "!", "v[0-9"} {
		if _, err := CompilePattern(raw); err == nil {
			t.Errorf("CompilePattern(%q) succeeded, want error", raw)
		}
	}
}
