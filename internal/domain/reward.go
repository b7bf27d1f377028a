package domain

import "time"

// Source categorizes which producer emitted a reward event.
type Source string

const (
	SourcePurchase    Source = "purchase"
	SourceQuest       Source = "quest"
	SourceMagRead     Source = "mag_read"
	SourceMagQuiz     Source = "mag_quiz"
	SourceUGCApproved Source = "ugc_approved"
	SourceReferral    Source = "referral"
)

// Tier is the subscription tier attached to a profile.
type Tier string

const (
	TierNone   Tier = "none"
	TierFree   Tier = "free"
	TierMember Tier = "member"
)

// Eligible reports whether a profile on this tier may accrue XP.
func (t Tier) Eligible() bool {
	return t == TierFree || t == TierMember
}

// RewardEvent is an immutable, append-only ledger record. The pair
// (Source, SourceRef) is unique whenever SourceRef is non-empty; that
// uniqueness is enforced by the store, not by callers.
type RewardEvent struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	Source    Source    `json:"source"`
	SourceRef string    `json:"source_ref,omitempty"`
	XPDelta   int64     `json:"xp_delta"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RewardSubmission is a producer's request to award XP.
type RewardSubmission struct {
	ProfileID   string  `json:"profile_id"`
	Source      Source  `json:"source"`
	SourceRef   string  `json:"source_ref,omitempty"`
	XPDelta     int64   `json:"xp_delta,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Subtotal    float64 `json:"subtotal,omitempty"`
}

// Validate rejects malformed submissions before anything is written.
// Purchase submissions may omit XPDelta; the service resolves it from
// the subtotal.
func (s *RewardSubmission) Validate() error {
	if s.ProfileID == "" || s.Source == "" {
		return ErrInvalidSubmission
	}
	if s.XPDelta == 0 && s.Source != SourcePurchase {
		return ErrInvalidSubmission
	}
	return nil
}

// SkipReasonNotEligible marks an Award that was soft-skipped because the
// profile's tier does not accrue XP. It is a successful outcome.
const SkipReasonNotEligible = "not_eligible"

// AwardResult is the only contract producers need. Duplicate and skipped
// outcomes are successes with descriptive fields, never errors, so that
// redelivered events stay safe to retry.
type AwardResult struct {
	Awarded       int64  `json:"awarded"`
	Duplicate     bool   `json:"duplicate"`
	SkippedReason string `json:"skipped_reason,omitempty"`
	XPTotal       int64  `json:"xp_total,omitempty"`
	Level         int    `json:"level,omitempty"`
}

// Progress is the per-profile aggregate state derived from applied
// events. Owned exclusively by the ledger engine.
type Progress struct {
	ProfileID   string    `json:"profile_id"`
	DisplayName string    `json:"display_name,omitempty"`
	XPTotal     int64     `json:"xp_total"`
	Level       int       `json:"level"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PurchaseTier maps a minimum order subtotal to an XP amount.
type PurchaseTier struct {
	SubtotalMin float64 `json:"subtotal_min" yaml:"subtotal_min"`
	XP          int64   `json:"xp" yaml:"xp"`
}

// PurchaseTierConfig is a versioned snapshot of the purchase reward
// schedule, fetched per resolution and never mutated in place.
type PurchaseTierConfig struct {
	Version int            `json:"version"`
	Tiers   []PurchaseTier `json:"tiers"`
}
