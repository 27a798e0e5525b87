package highlight

import (
	"strings"
	"testing"
)

func brackets(s string) string { return "[[" + s + "]]" }

func TestApplyANSI_CaseInsensitive(t *testing.T) {
	in := "Refund policy\nthe refund window\n"
	res := ApplyANSI(in, "REFUND", brackets)

	if res.Count != 2 {
		t.Fatalf("expected 2 matches, got %d", res.Count)
	}
	if len(res.LineIndex) != 2 || res.LineIndex[0] != 0 || res.LineIndex[1] != 1 {
		t.Fatalf("unexpected line indexes: %#v", res.LineIndex)
	}
	if !strings.Contains(res.Text, "[[Refund]]") || !strings.Contains(res.Text, "[[refund]]") {
		t.Fatalf("highlight wrapper not applied: %q", res.Text)
	}
	if !strings.HasSuffix(res.Text, "\n") {
		t.Fatalf("trailing newline lost: %q", res.Text)
	}
}

func TestApplyANSI_MultipleTerms(t *testing.T) {
	res := ApplyANSI("thirty days for refunds", "days refund", brackets)
	if res.Count != 2 {
		t.Fatalf("expected 2 matches, got %d (%q)", res.Count, res.Text)
	}
	if res.Text != "thirty [[days]] for [[refund]]s" {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestApplyANSI_LongerTermWins(t *testing.T) {
	res := ApplyANSI("documentation", "doc documentation", brackets)
	if res.Count != 1 || res.Text != "[[documentation]]" {
		t.Fatalf("expected a single long match, got %d %q", res.Count, res.Text)
	}
}

func TestApplyANSI_PreservesEscapeSequences(t *testing.T) {
	in := "a \x1b[31mpolicy\x1b[0m b"
	res := ApplyANSI(in, "policy", func(s string) string { return "<" + s + ">" })
	if res.Count != 1 {
		t.Fatalf("expected 1 match, got %d", res.Count)
	}
	if !strings.Contains(res.Text, "\x1b[31m<policy>\x1b[0m") {
		t.Fatalf("expected escaped segment to stay intact, got %q", res.Text)
	}
}

func TestApplyANSI_DoesNotMatchAcrossANSIBoundaries(t *testing.T) {
	res := ApplyANSI("po\x1b[31mli\x1b[0mcy", "policy", brackets)
	if res.Count != 0 {
		t.Fatalf("expected 0 matches across ansi boundaries, got %d", res.Count)
	}
}

func TestApplyANSI_EmptyQuery(t *testing.T) {
	res := ApplyANSI("text", "   ", brackets)
	if res.Text != "text" || res.Count != 0 {
		t.Fatalf("expected passthrough, got %#v", res)
	}
}

func TestMatches(t *testing.T) {
	if !Matches("Budget review for Q3", "q3 budget") {
		t.Fatal("expected all terms to match")
	}
	if Matches("Budget review", "budget q4") {
		t.Fatal("expected missing term to fail")
	}
	if !Matches("anything", "") {
		t.Fatal("empty query matches everything")
	}
}
