package domain

import "errors"

// Domain errors
var (
	ErrInvalidSubmission = errors.New("invalid reward submission")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrReferralNotFound  = errors.New("referral code not found")
	ErrSelfReferral      = errors.New("self-referral is not allowed")
	ErrDuplicateEvent    = errors.New("reward event already applied")
	ErrDuplicateCode     = errors.New("referral code already exists")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInternalError     = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrProfileNotFound) || errors.Is(err, ErrReferralNotFound)
}

// IsValidationError checks if an error represents a rejected payload
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidSubmission) || errors.Is(err, ErrSelfReferral) || errors.Is(err, ErrInvalidRequest)
}
