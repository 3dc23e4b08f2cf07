package util

import "testing"

func TestSanitizeTextStripsNUL(t *testing.T) {
	in := "ab\x00cd"
	if got := SanitizeText(in); got != "abcd" {
		t.Fatalf("unexpected result: %q", got)
	}
}

func TestSanitizeTextKeepsWhitespace(t *testing.T) {
	in := "a\n\tb\x01c"
	if got := SanitizeText(in); got != "a\n\tbc" {
		t.Fatalf("unexpected result: %q", got)
	}
}
