package app

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestResolveInstanceIDPrefersConfiguredValue(t *testing.T) {
	got := resolveInstanceID(" revocation-0 ", func() (string, error) { return "host-a", nil })
	if got != "revocation-0" {
		t.Fatalf("expected configured id, got %q", got)
	}
}

func TestResolveInstanceIDIsStableAcrossRestarts(t *testing.T) {
	hostname := func() (string, error) { return "host-a", nil }

	first := resolveInstanceID("", hostname)
	second := resolveInstanceID("", hostname)
	if first != "host-a" || second != first {
		t.Fatalf("expected hostname to be reused, got %q then %q", first, second)
	}
}

func TestResolveInstanceIDFallsBackToRandom(t *testing.T) {
	got := resolveInstanceID("", func() (string, error) { return "", errors.New("no hostname") })
	if _, err := uuid.Parse(got); err != nil {
		t.Fatalf("expected a generated uuid, got %q", got)
	}
}
