package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseRevocationReason(t *testing.T) {
	cases := []struct {
		raw     string
		want    RevocationReason
		wantErr error
	}{
		{raw: "", want: RevocationReasonManual},
		{raw: "  Logout ", want: RevocationReasonLogout},
		{raw: "security_incident", want: RevocationReasonSecurityIncident},
		{raw: "compromised", wantErr: ErrInvalidReason},
	}

	for _, tc := range cases {
		got, err := ParseRevocationReason(tc.raw, RevocationReasonManual)
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("ParseRevocationReason(%q) error = %v, want %v", tc.raw, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseRevocationReason(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestRevocationRecordExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	record := RevocationRecord{Fingerprint: "fp", ExpiresAt: now.Add(time.Minute)}

	if record.IsExpired(now) {
		t.Fatalf("record should be live before ExpiresAt")
	}
	if !record.IsExpired(now.Add(time.Minute)) {
		t.Fatalf("record should be expired at ExpiresAt")
	}
	if ttl := record.TTL(now); ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", ttl)
	}
}

func TestCheckOutcomeRevoked(t *testing.T) {
	for _, outcome := range []CheckOutcome{CheckOutcomeDurableHit, CheckOutcomeLocalHit, CheckOutcomeFailSecure} {
		if !outcome.Revoked() {
			t.Fatalf("%s should deny the credential", outcome)
		}
	}
	if CheckOutcomeMiss.Revoked() {
		t.Fatalf("miss should allow the credential")
	}
}
