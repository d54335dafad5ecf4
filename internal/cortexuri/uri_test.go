package cortexuri

import (
	"testing"

	"cortex/internal/cortexerr"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"cortex://resources",
		"cortex://user/alice",
		"cortex://user/alice/preferences",
		"cortex://user/alice/preferences/.abstract.md",
		"cortex://session/t1/timeline/2026-07/31/14_00_00_ab12.md",
		"cortex://agent/coder/cases/2026-07/incident.md",
	}
	for _, c := range cases {
		u, err := Parse(c)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c, err)
		}
		if got := u.String(); got != c {
			t.Fatalf("round trip mismatch: parse(%q).String() = %q", c, got)
		}
		u2, err := Parse(u.String())
		if err != nil {
			t.Fatalf("re-parse failed: %v", err)
		}
		if u2 != u {
			t.Fatalf("parse(render(u)) != u: %+v != %+v", u2, u)
		}
	}
}

func TestParseRejectsBadScheme(t *testing.T) {
	_, err := Parse("http://user/alice")
	if cortexerr.KindOf(err) != cortexerr.InvalidScheme {
		t.Fatalf("expected InvalidScheme, got %v", err)
	}
}

func TestParseRejectsUnknownDimension(t *testing.T) {
	_, err := Parse("cortex://bogus/alice")
	if cortexerr.KindOf(err) != cortexerr.InvalidDimension {
		t.Fatalf("expected InvalidDimension, got %v", err)
	}
}

func TestParseRejectsEmptySegments(t *testing.T) {
	for _, raw := range []string{"cortex://", "cortex://user//preferences", "cortex://user/alice/"} {
		_, err := Parse(raw)
		if err == nil {
			t.Fatalf("expected error parsing %q", raw)
		}
		if k := cortexerr.KindOf(err); k != cortexerr.InvalidPath {
			t.Fatalf("expected InvalidPath for %q, got %v", raw, k)
		}
	}
}

func TestIsHidden(t *testing.T) {
	u := MustParse("cortex://user/alice/preferences/.abstract.md")
	if !u.IsHidden() {
		t.Fatal("expected hidden")
	}
	u2 := MustParse("cortex://user/alice/preferences/coffee.md")
	if u2.IsHidden() {
		t.Fatal("expected not hidden")
	}
}

func TestAbstractOverview(t *testing.T) {
	dir := MustParse("cortex://user/alice/preferences")
	if got := dir.Abstract().String(); got != "cortex://user/alice/preferences/.abstract.md" {
		t.Fatalf("unexpected abstract uri: %s", got)
	}
	if got := dir.Overview().String(); got != "cortex://user/alice/preferences/.overview.md" {
		t.Fatalf("unexpected overview uri: %s", got)
	}
}

func TestParent(t *testing.T) {
	u := MustParse("cortex://session/t1/timeline/2026-07/31/14_00_00_ab12.md")
	p := u.Parent()
	if got := p.String(); got != "cortex://session/t1/timeline/2026-07/31" {
		t.Fatalf("unexpected parent: %s", got)
	}
}

func TestNormalizeScopeDefaultsToSession(t *testing.T) {
	u, err := NormalizeScope("")
	if err != nil {
		t.Fatal(err)
	}
	if u.Dimension != DimSession {
		t.Fatalf("expected session dimension, got %v", u.Dimension)
	}
}

func TestNormalizeScopeLegacyAliases(t *testing.T) {
	u, err := NormalizeScope("threads/t1")
	if err != nil {
		t.Fatal(err)
	}
	if u.Dimension != DimSession || u.Category != "t1" {
		t.Fatalf("unexpected normalized scope: %+v", u)
	}

	u2, err := NormalizeScope("global/docs")
	if err != nil {
		t.Fatal(err)
	}
	if u2.Dimension != DimSession || u2.Category != "docs" {
		t.Fatalf("unexpected normalized scope: %+v", u2)
	}
}

func TestConstructors(t *testing.T) {
	if got := UserPreferences("alice").String(); got != "cortex://user/alice/preferences" {
		t.Fatalf("unexpected: %s", got)
	}
	if got := AgentCases("coder", "2026-07", "incident.md").String(); got != "cortex://agent/coder/cases/2026-07/incident.md" {
		t.Fatalf("unexpected: %s", got)
	}
	if got := SessionTimeline("t1").String(); got != "cortex://session/t1/timeline" {
		t.Fatalf("unexpected: %s", got)
	}
}
