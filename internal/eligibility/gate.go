package eligibility

import (
	"context"
	"errors"
	"fmt"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
)

// TierSource reads the subscription tier for a profile. Subscription
// state is owned by the accounts collaborator; the ledger only reads it.
type TierSource interface {
	SubscriptionTier(ctx context.Context, profileID string) (domain.Tier, error)
}

// Gate decides whether a profile may accrue XP. It is a pure predicate
// over current subscription state; no caching, every call reflects the
// tier as stored right now.
type Gate struct {
	source TierSource
}

// NewGate creates an eligibility gate over the given tier source.
func NewGate(source TierSource) *Gate {
	return &Gate{source: source}
}

// IsEligible reports whether the profile's tier accrues XP. An unknown
// profile is treated as tier none, not as an error.
func (g *Gate) IsEligible(ctx context.Context, profileID string) (bool, error) {
	tier, err := g.source.SubscriptionTier(ctx, profileID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("resolving subscription tier: %w", err)
	}
	return tier.Eligible(), nil
}
