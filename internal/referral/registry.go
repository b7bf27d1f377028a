package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
)

// maxGenerateAttempts bounds retries when a generated code value collides
// with another profile's code.
const maxGenerateAttempts = 5

// Store persists referral codes and attribution events. InsertCode must
// enforce per-profile and per-code uniqueness at insert time and return
// domain.ErrDuplicateCode on conflict; InsertEvent must enforce source_ref
// uniqueness the same way and return domain.ErrDuplicateEvent.
type Store interface {
	CodeByProfile(ctx context.Context, profileID string) (*domain.ReferralCode, error)
	CodeByValue(ctx context.Context, code string) (*domain.ReferralCode, error)
	InsertCode(ctx context.Context, code domain.ReferralCode) error
	InsertEvent(ctx context.Context, event domain.ReferralEvent) error
}

// Registry issues referral codes and attributes referral milestones.
type Registry struct {
	store  Store
	prefix string
	logger *slog.Logger
}

// NewRegistry creates a referral registry issuing codes with the given
// prefix.
func NewRegistry(store Store, prefix string, logger *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		prefix: prefix,
		logger: logger,
	}
}

// GetOrCreateCode returns the profile's referral code, creating it on
// first request. Exactly one code ever exists per profile: when two
// concurrent first requests race, the loser reads back the winner's row
// instead of surfacing the constraint violation.
func (r *Registry) GetOrCreateCode(ctx context.Context, profileID string) (*domain.CodeIssue, error) {
	if profileID == "" {
		return nil, domain.ErrInvalidRequest
	}

	existing, err := r.store.CodeByProfile(ctx, profileID)
	if err == nil {
		return &domain.CodeIssue{Code: existing.Code}, nil
	}
	if !errors.Is(err, domain.ErrReferralNotFound) {
		return nil, fmt.Errorf("looking up referral code: %w", err)
	}

	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		candidate, err := generateCode(r.prefix)
		if err != nil {
			return nil, fmt.Errorf("generating referral code: %w", err)
		}

		insertErr := r.store.InsertCode(ctx, domain.ReferralCode{
			ProfileID: profileID,
			Code:      candidate,
			CreatedAt: time.Now().UTC(),
		})
		if insertErr == nil {
			r.logger.Info("referral code created", "profile_id", profileID, "code", candidate)
			return &domain.CodeIssue{Code: candidate, Created: true}, nil
		}
		if !errors.Is(insertErr, domain.ErrDuplicateCode) {
			return nil, fmt.Errorf("storing referral code: %w", insertErr)
		}

		// Either a concurrent call won the per-profile race, or the
		// candidate value collided with another profile's code.
		winner, lookupErr := r.store.CodeByProfile(ctx, profileID)
		if lookupErr == nil {
			return &domain.CodeIssue{Code: winner.Code}, nil
		}
		if !errors.Is(lookupErr, domain.ErrReferralNotFound) {
			return nil, fmt.Errorf("re-reading referral code: %w", lookupErr)
		}
	}

	return nil, fmt.Errorf("generating referral code: exhausted %d attempts", maxGenerateAttempts)
}

// ApplyReferral attributes a referral milestone to the owner of the given
// code. Reapplying the same (referee, event type) pair is a successful
// duplicate, never an error; attaching XP to the referral is the caller's
// decision, made separately against the ledger with a matching source_ref.
func (r *Registry) ApplyReferral(ctx context.Context, code, refereeID string, eventType domain.ReferralEventType) (*domain.ReferralResult, error) {
	if code == "" || refereeID == "" || !eventType.Valid() {
		return nil, domain.ErrInvalidRequest
	}

	owner, err := r.store.CodeByValue(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrReferralNotFound) {
			return nil, domain.ErrReferralNotFound
		}
		return nil, fmt.Errorf("looking up referral code owner: %w", err)
	}
	if owner.ProfileID == refereeID {
		return nil, domain.ErrSelfReferral
	}

	event := domain.ReferralEvent{
		ReferrerID: owner.ProfileID,
		RefereeID:  refereeID,
		CodeUsed:   code,
		EventType:  eventType,
		SourceRef:  domain.ReferralSourceRef(refereeID, eventType),
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.store.InsertEvent(ctx, event); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			return &domain.ReferralResult{
				Applied:    true,
				Duplicate:  true,
				ReferrerID: owner.ProfileID,
			}, nil
		}
		return nil, fmt.Errorf("storing referral event: %w", err)
	}

	r.logger.Info("referral applied",
		"referrer_id", owner.ProfileID,
		"referee_id", refereeID,
		"event_type", eventType,
	)

	return &domain.ReferralResult{Applied: true, ReferrerID: owner.ProfileID}, nil
}
