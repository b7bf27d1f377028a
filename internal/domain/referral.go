package domain

import "time"

// ReferralEventType is the qualifying milestone a referee reached.
type ReferralEventType string

const (
	ReferralSignedUp   ReferralEventType = "signed_up"
	ReferralFirstOrder ReferralEventType = "first_order"
)

// Valid reports whether the event type is one the registry accepts.
func (t ReferralEventType) Valid() bool {
	return t == ReferralSignedUp || t == ReferralFirstOrder
}

// ReferralCode binds a shareable code to exactly one referring profile.
// Immutable once created.
type ReferralCode struct {
	ProfileID string    `json:"profile_id"`
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
}

// CodeIssue is the result of GetOrCreateCode. Both outcomes are explicit
// so callers never have to infer creation from a storage error.
type CodeIssue struct {
	Code    string `json:"code"`
	Created bool   `json:"created"`
}

// ReferralEvent records one qualifying referral milestone. SourceRef is
// derived from the referee and event type and is unique, which makes
// reapplication a no-op.
type ReferralEvent struct {
	ReferrerID string            `json:"referrer_id"`
	RefereeID  string            `json:"referee_id"`
	CodeUsed   string            `json:"code_used"`
	EventType  ReferralEventType `json:"event_type"`
	SourceRef  string            `json:"source_ref"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ReferralSourceRef derives the dedup key for a referral milestone. The
// same key is used for the ReferralEvent row and for the matching
// source="referral" reward event, so attribution and accrual dedupe
// together.
func ReferralSourceRef(refereeID string, eventType ReferralEventType) string {
	return refereeID + ":" + string(eventType)
}

// ReferralResult is the outcome of ApplyReferral. A duplicate is a
// successful no-op, not an error.
type ReferralResult struct {
	Applied    bool   `json:"applied"`
	Duplicate  bool   `json:"duplicate"`
	ReferrerID string `json:"referrer_id,omitempty"`
}
