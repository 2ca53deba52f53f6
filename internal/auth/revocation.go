package auth

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"simpletask-backend/internal/cache"
	"simpletask-backend/internal/observability"
)

const revokedKeyPrefix = "revoked:"

// RevocationStore records revoked token identifiers in the shared expiring
// store. An entry never outlives the token it revokes, which keeps the set
// bounded by the number of currently valid, revoked tokens.
type RevocationStore struct {
	cache  *cache.Cache
	logger *observability.Logger
}

func NewRevocationStore(cache *cache.Cache, logger *observability.Logger) *RevocationStore {
	return &RevocationStore{cache: cache, logger: logger}
}

// Revoke marks jti as revoked for ttl. Revoking an already-expired token
// (ttl <= 0) is a no-op: it can never validate as unexpired again.
// Revoking twice has the same effect as revoking once.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.cache.Set(ctx, revokedKeyPrefix+jti, "1", ttl)
}

// IsRevoked reports whether jti is in the revocation set. A store failure
// fails open: the token is treated as not revoked, and the failure is
// logged and captured. Access tokens are short-lived, so the exposure
// window of a missed revocation is bounded by the access TTL.
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) bool {
	revoked, err := s.cache.Exists(ctx, revokedKeyPrefix+jti)
	if err != nil {
		s.logger.Warn("revocation_check_failed", map[string]any{"error": err.Error()})
		sentry.CaptureException(err)
		return false
	}
	return revoked
}
