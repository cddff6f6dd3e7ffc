package domain

// DegradationReason captures why a revocation check could not be answered by the durable store.
type DegradationReason string

const (
	// DegradationReasonDurableUnavailable denotes durable lookups failed or timed out.
	DegradationReasonDurableUnavailable DegradationReason = "durable_unavailable"
	// DegradationReasonEmptyCredential denotes a check was requested for an empty token.
	DegradationReasonEmptyCredential DegradationReason = "empty_credential"
)

// CheckOutcome enumerates how a revocation check was decided.
type CheckOutcome string

const (
	CheckOutcomeDurableHit CheckOutcome = "durable_hit"
	CheckOutcomeLocalHit   CheckOutcome = "local_hit"
	CheckOutcomeMiss       CheckOutcome = "miss"
	// CheckOutcomeFailSecure means the credential was treated as revoked because nothing could prove otherwise.
	CheckOutcomeFailSecure CheckOutcome = "fail_secure"
)

// Revoked reports whether the outcome denies the credential.
func (o CheckOutcome) Revoked() bool {
	return o != CheckOutcomeMiss
}
