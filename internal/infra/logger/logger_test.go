package logger

import (
	"context"
	"testing"
)

func TestMaskIP(t *testing.T) {
	cases := map[string]string{
		"":                        "",
		"192.168.1.100":           "192.168.*.*",
		"2001:0db8:85a3:0000:1:2": "2001:0db8:85a3:0000:*:*:*:*",
		"garbage":                 "***",
	}
	for input, want := range cases {
		if got := MaskIP(input); got != want {
			t.Fatalf("MaskIP(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestShortFingerprint(t *testing.T) {
	if got := ShortFingerprint("abcdef0123456789"); got != "abcdef01" {
		t.Fatalf("unexpected short fingerprint %q", got)
	}
	if got := ShortFingerprint("abc"); got != "abc" {
		t.Fatalf("expected short input unchanged, got %q", got)
	}
}

func TestRequestIDFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey{}, "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
