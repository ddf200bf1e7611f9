package util

import "testing"

func TestSanitizePostgresText(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"clean", "hello world", "hello world"},
		{"nul bytes", "hel\x00lo", "hello"},
		{"invalid utf8", "ab\xffcd", "abcd"},
		{"mixed", "a\x00b\xffc", "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizePostgresText(tc.input); got != tc.want {
				t.Fatalf("SanitizePostgresText(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}
