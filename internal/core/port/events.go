package port

import (
	"context"

	"github.com/arklim/token-revocation/internal/core/domain"
)

// AuditSink records security-relevant revocation events.
type AuditSink interface {
	Record(ctx context.Context, event domain.AuditEvent) error
}
