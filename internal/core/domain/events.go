package domain

import "time"

// AuditAction enumerates the security events emitted by the revocation service.
type AuditAction string

const (
	AuditActionRevoke          AuditAction = "revoke"
	AuditActionBulkRevoke      AuditAction = "bulk_revoke"
	AuditActionBulkRevokeToken AuditAction = "bulk_revoke_token"
)

// AuditEvent represents the payload for revocation audit messages.
// Fingerprint is set for single-token actions, Count for bulk summaries.
type AuditEvent struct {
	EventID     string
	Action      AuditAction
	UserID      string
	Fingerprint string
	Count       int
	ExpiresAt   time.Time
	Reason      RevocationReason
	InstanceID  string
	Timestamp   time.Time
}

// CarriesRevocation reports whether the event describes a single revoked fingerprint.
func (e AuditEvent) CarriesRevocation() bool {
	switch e.Action {
	case AuditActionRevoke, AuditActionBulkRevokeToken:
		return e.Fingerprint != ""
	default:
		return false
	}
}
