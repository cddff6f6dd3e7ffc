package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/token-revocation/internal/core/domain"
	"github.com/arklim/token-revocation/internal/core/port"
)

const (
	defaultRevocationPrefix = "revoked"
	defaultUserIndexPrefix  = "revoked:user"
)

// RevocationRepository stores revocation records in Redis with TTLs matching credential expiry,
// plus a per-user sorted set of fingerprints scored by expiry.
type RevocationRepository struct {
	client      red.UniversalClient
	prefix      string
	indexPrefix string
	now         func() time.Time
}

// NewRevocationRepository wires a Redis client into a revocation repository.
func NewRevocationRepository(client red.UniversalClient, keyPrefix, userIndexPrefix string) *RevocationRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRevocationPrefix
	}
	indexPrefix := strings.TrimSpace(userIndexPrefix)
	if indexPrefix == "" {
		indexPrefix = defaultUserIndexPrefix
	}

	return &RevocationRepository{client: client, prefix: prefix, indexPrefix: indexPrefix, now: time.Now}
}

// WithClock overrides the time source used to size the user index TTL.
func (r *RevocationRepository) WithClock(clock func() time.Time) *RevocationRepository {
	if clock != nil {
		r.now = clock
	}
	return r
}

// Set stores the record under the fingerprint with the supplied TTL.
func (r *RevocationRepository) Set(ctx context.Context, fingerprint string, record domain.RevocationRecord, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	key := r.key(fingerprint)
	if key == "" {
		return errors.New("fingerprint must not be empty")
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode revocation record: %w", err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set revocation: %w", err)
	}

	return nil
}

// Get loads the record for the fingerprint. A missing key is reported as found=false with no error.
func (r *RevocationRepository) Get(ctx context.Context, fingerprint string) (*domain.RevocationRecord, bool, error) {
	key := r.key(fingerprint)
	if key == "" {
		return nil, false, errors.New("fingerprint must not be empty")
	}

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get revocation: %w", err)
	}

	var record domain.RevocationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		// The key exists, so the credential is revoked even if the payload is unreadable.
		return &domain.RevocationRecord{Fingerprint: strings.TrimSpace(fingerprint)}, true, nil
	}

	return &record, true, nil
}

// AddUserFingerprint indexes the fingerprint under the user, scored by its expiry in milliseconds,
// and extends the index expiry to cover it.
func (r *RevocationRepository) AddUserFingerprint(ctx context.Context, userID, fingerprint string, expiresAt time.Time) error {
	key := r.userKey(userID)
	if key == "" {
		return errors.New("user id must not be empty")
	}
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return errors.New("fingerprint must not be empty")
	}

	var ttlCmd *red.DurationCmd
	_, err := r.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		pipe.ZAdd(ctx, key, red.Z{Score: float64(expiryScore(expiresAt)), Member: fingerprint})
		ttlCmd = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis index user revocation: %w", err)
	}

	remaining := expiresAt.Sub(r.now())
	if remaining <= 0 {
		return nil
	}
	// PTTL reports a negative duration for keys without expiry, including the freshly created set.
	if current := ttlCmd.Val(); current < remaining {
		if err := r.client.PExpire(ctx, key, remaining).Err(); err != nil {
			return fmt.Errorf("redis expire user index: %w", err)
		}
	}

	return nil
}

// ListUserFingerprints returns the user's indexed fingerprints whose expiry is after now,
// with the expiry each was indexed under. Expired members are trimmed as a side effect.
func (r *RevocationRepository) ListUserFingerprints(ctx context.Context, userID string, now time.Time) ([]domain.UserFingerprint, error) {
	key := r.userKey(userID)
	if key == "" {
		return nil, errors.New("user id must not be empty")
	}

	cutoff := strconv.FormatInt(now.UnixMilli(), 10)
	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", cutoff).Err(); err != nil {
		return nil, fmt.Errorf("redis trim user index: %w", err)
	}

	scored, err := r.client.ZRangeByScoreWithScores(ctx, key, &red.ZRangeBy{Min: "(" + cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list user index: %w", err)
	}

	members := make([]domain.UserFingerprint, 0, len(scored))
	for _, z := range scored {
		fingerprint, ok := z.Member.(string)
		if !ok || fingerprint == "" {
			continue
		}
		members = append(members, domain.UserFingerprint{
			Fingerprint: fingerprint,
			ExpiresAt:   time.UnixMilli(int64(z.Score)).UTC(),
		})
	}

	return members, nil
}

// HealthCheck pings Redis.
func (r *RevocationRepository) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// expiryScore rounds up to the next millisecond so the index never understates an expiry.
func expiryScore(expiresAt time.Time) int64 {
	ms := expiresAt.UnixMilli()
	if expiresAt.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}

func (r *RevocationRepository) key(fingerprint string) string {
	trimmed := strings.TrimSpace(fingerprint)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

func (r *RevocationRepository) userKey(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.indexPrefix, trimmed)
}

var (
	_ port.DurableRevocationStore = (*RevocationRepository)(nil)
	_ port.UserRevocationIndex    = (*RevocationRepository)(nil)
	_ port.HealthChecker          = (*RevocationRepository)(nil)
)
