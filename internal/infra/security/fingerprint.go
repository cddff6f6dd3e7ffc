package security

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/arklim/token-revocation/internal/core/port"
)

// FingerprintLength is the hex length of every token fingerprint.
const FingerprintLength = blake2b.Size256 * 2

// TokenFingerprinter derives fixed-length keyed BLAKE2b-256 digests of raw credentials.
type TokenFingerprinter struct {
	key []byte
}

// NewTokenFingerprinter constructs a fingerprinter. An empty key yields a plain BLAKE2b-256 digest;
// keys longer than 64 bytes are rejected.
func NewTokenFingerprinter(key string) (*TokenFingerprinter, error) {
	keyBytes := []byte(key)
	if len(keyBytes) > blake2b.Size {
		return nil, fmt.Errorf("fingerprint key exceeds %d bytes", blake2b.Size)
	}
	return &TokenFingerprinter{key: keyBytes}, nil
}

// Fingerprint returns the lowercase hex digest of the trimmed token, or "" for an empty token.
func (f *TokenFingerprinter) Fingerprint(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}

	var key []byte
	if f != nil {
		key = f.key
	}
	// New256 only fails for oversized keys, which the constructor rejects.
	h, err := blake2b.New256(key)
	if err != nil {
		return ""
	}
	_, _ = h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

var _ port.Fingerprinter = (*TokenFingerprinter)(nil)
