package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/spec-kit/garage-core/internal/domain"
	"github.com/spec-kit/garage-core/internal/store"
)

const revokedPrefix = "revoked:"

// RevocationRepository remembers logged-out tokens until they would have
// expired anyway.
type RevocationRepository interface {
	Revoke(ctx context.Context, token domain.Token) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type revocationRepository struct {
	store *store.Store
	now   func() time.Time
}

// NewRevocationRepository keeps revocations in st with a TTL equal to the
// token's remaining lifetime.
func NewRevocationRepository(st *store.Store) RevocationRepository {
	return &revocationRepository{store: st, now: time.Now}
}

func (r *revocationRepository) Revoke(ctx context.Context, token domain.Token) error {
	ttl := token.Remaining(r.now())
	if ttl <= 0 {
		return nil
	}
	res := r.store.SetWithExpiration(ctx, revokedPrefix+token.ID, token.SubjectID, ttl)
	if !res.OK() {
		return fmt.Errorf("revoke token %s: %w", token.ID, res.Err)
	}
	return nil
}

func (r *revocationRepository) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	res := r.store.Exists(ctx, revokedPrefix+tokenID)
	if !res.OK() {
		return false, res.Err
	}
	return res.Value, nil
}
