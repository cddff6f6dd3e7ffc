package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/core/port"
)

const revokedTokensTable = "revocation.revoked_tokens"

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pinger interface {
	Ping(ctx context.Context) error
}

// RevocationRepository implements the durable revocation store backed by PostgreSQL.
// Rows outlive their expiry until the reaper deletes them, so reads filter on expires_at.
type RevocationRepository struct {
	pool    *pgxpool.Pool
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewRevocationRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewRevocationRepository(exec pgExecutor) *RevocationRepository {
	repo := &RevocationRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     time.Now,
	}
	if pool, ok := exec.(*pgxpool.Pool); ok {
		repo.pool = pool
	}
	return repo
}

// WithClock overrides the time source used to filter expired rows.
func (r *RevocationRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Set upserts the revocation row for the fingerprint. The last writer wins.
func (r *RevocationRepository) Set(ctx context.Context, fingerprint string, record domain.RevocationRecord, ttl time.Duration) error {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("revocation ttl must be positive")
	}

	now := r.now().UTC()
	revokedAt := record.RevokedAt
	if revokedAt.IsZero() {
		revokedAt = now
	}
	expiresAt := record.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(ttl)
	}

	stmt, args, err := r.builder.Insert(revokedTokensTable).
		Columns("fingerprint", "user_id", "revoked_at", "expires_at").
		Values(fingerprint, optionalString(record.UserID), revokedAt.UTC(), expiresAt.UTC()).
		Suffix("ON CONFLICT (fingerprint) DO UPDATE SET user_id = EXCLUDED.user_id, revoked_at = EXCLUDED.revoked_at, expires_at = EXCLUDED.expires_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert revocation sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("upsert revocation: %w", err)
	}
	return nil
}

// Get loads an unexpired revocation row.
func (r *RevocationRepository) Get(ctx context.Context, fingerprint string) (*domain.RevocationRecord, bool, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return nil, false, fmt.Errorf("fingerprint is required")
	}

	stmt, args, err := r.builder.
		Select("fingerprint", "user_id", "revoked_at", "expires_at").
		From(revokedTokensTable).
		Where(squirrel.Eq{"fingerprint": fingerprint}).
		Where(squirrel.Gt{"expires_at": r.now().UTC()}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build select revocation sql: %w", err)
	}

	var (
		record domain.RevocationRecord
		userID sql.NullString
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&record.Fingerprint, &userID, &record.RevokedAt, &record.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select revocation: %w", err)
	}
	if userID.Valid {
		record.UserID = userID.String
	}

	return &record, true, nil
}

// AddUserFingerprint attaches an owner to an existing row. Set already stores user_id,
// so this only fills rows written without one.
func (r *RevocationRepository) AddUserFingerprint(ctx context.Context, userID, fingerprint string, _ time.Time) error {
	userID = strings.TrimSpace(userID)
	fingerprint = strings.TrimSpace(fingerprint)
	if userID == "" || fingerprint == "" {
		return fmt.Errorf("user id and fingerprint are required")
	}

	stmt, args, err := r.builder.Update(revokedTokensTable).
		Set("user_id", userID).
		Where(squirrel.Eq{"fingerprint": fingerprint}).
		Where(squirrel.Eq{"user_id": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update revocation owner sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("update revocation owner: %w", err)
	}
	return nil
}

// ListUserFingerprints returns fingerprints owned by userID that expire after now, with their expiry.
func (r *RevocationRepository) ListUserFingerprints(ctx context.Context, userID string, now time.Time) ([]domain.UserFingerprint, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	stmt, args, err := r.builder.
		Select("fingerprint", "expires_at").
		From(revokedTokensTable).
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.Gt{"expires_at": now.UTC()}).
		OrderBy("fingerprint").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list user revocations sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query user revocations: %w", err)
	}
	defer rows.Close()

	members := make([]domain.UserFingerprint, 0)
	for rows.Next() {
		var member domain.UserFingerprint
		if err := rows.Scan(&member.Fingerprint, &member.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		member.ExpiresAt = member.ExpiresAt.UTC()
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user revocations: %w", err)
	}

	return members, nil
}

// DeleteExpired removes rows whose expiry is at or before now and reports how many were deleted.
func (r *RevocationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	stmt, args, err := r.builder.Delete(revokedTokensTable).
		Where(squirrel.LtOrEq{"expires_at": now.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete expired revocations sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired revocations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HealthCheck pings the pool when the executor supports it.
func (r *RevocationRepository) HealthCheck(ctx context.Context) error {
	if r.pool != nil {
		return r.pool.Ping(ctx)
	}
	if p, ok := r.exec.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func optionalString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

var (
	_ port.DurableRevocationStore = (*RevocationRepository)(nil)
	_ port.UserRevocationIndex    = (*RevocationRepository)(nil)
	_ port.HealthChecker          = (*RevocationRepository)(nil)
)
