package utils

import (
	"strings"
	"testing"
)

func TestChangeHash(t *testing.T) {
	a := ChangeHash("main.py", "x = 1\n")
	b := ChangeHash("main.py", "x = 1\n")
	if a != b {
		t.Error("identical inputs hash differently")
	}
	if ChangeHash("main.py", "x = 2\n") == a {
		t.Error("different content hashes equal")
	}
	if ChangeHash("other.py", "x = 1\n") == a {
		t.Error("different path hashes equal")
	}
	// The separator keeps path/content boundaries unambiguous.
	if ChangeHash("a", "bc") == ChangeHash("ab", "c") {
		t.Error("path/content boundary ambiguity")
	}
}

func TestTail(t *testing.T) {
	if got := Tail("short", 100); got != "short" {
		t.Errorf("Tail of short string = %q", got)
	}
	if got := Tail("abcdef", 3); got != "def" {
		t.Errorf("Tail = %q, want def", got)
	}
	// Cutting inside a multi-byte rune must not leave a partial rune prefix.
	s := "aaaébbb"
	got := Tail(s, 4)
	if strings.HasPrefix(got, "\x89") || !strings.HasSuffix(got, "bbb") {
		t.Errorf("Tail landed inside a rune: %q", got)
	}
}

func TestLastLines(t *testing.T) {
	s := "one\n\ntwo\nthree\n\nfour\n"
	got := LastLines(s, 3)
	want := []string{"two", "three", "four"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSanitizeTimestamp(t *testing.T) {
	if got := SanitizeTimestamp("2026-01-02 15:04:05.000"); got != "2026-01-02_15-04-05000" {
		t.Errorf("SanitizeTimestamp = %q", got)
	}
}
