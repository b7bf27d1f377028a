package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
)

// Store persists reward events and the per-profile aggregate they derive.
// ApplyEvent must write the event and update the aggregate as one atomic
// unit, with the (source, source_ref) uniqueness checked at insert time by
// the store itself; it returns domain.ErrDuplicateEvent when the event was
// already applied.
type Store interface {
	ApplyEvent(ctx context.Context, event domain.RewardEvent, displayName string, levelFor func(int64) int) (*domain.Progress, error)
	Progress(ctx context.Context, profileID string) (*domain.Progress, error)
}

// EligibilityChecker gates accrual on subscription state.
type EligibilityChecker interface {
	IsEligible(ctx context.Context, profileID string) (bool, error)
}

// Engine applies reward events exactly once and derives aggregate XP
// state. It is the only writer of that state.
type Engine struct {
	store  Store
	gate   EligibilityChecker
	levels *Levels
	logger *slog.Logger
}

// NewEngine creates a ledger engine.
func NewEngine(store Store, gate EligibilityChecker, levels *Levels, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		gate:   gate,
		levels: levels,
		logger: logger,
	}
}

// Award applies one reward submission. Ineligible profiles are a soft
// skip and duplicates are a successful no-op; both come back as result
// fields so producers can redeliver the same logical event safely. Only
// validation failures and storage failures are errors.
func (e *Engine) Award(ctx context.Context, sub domain.RewardSubmission) (*domain.AwardResult, error) {
	if sub.ProfileID == "" || sub.Source == "" || sub.XPDelta == 0 {
		return nil, domain.ErrInvalidSubmission
	}

	eligible, err := e.gate.IsEligible(ctx, sub.ProfileID)
	if err != nil {
		return nil, fmt.Errorf("checking eligibility: %w", err)
	}
	if !eligible {
		e.logger.Debug("award skipped, profile not eligible",
			"profile_id", sub.ProfileID,
			"source", sub.Source,
		)
		return &domain.AwardResult{SkippedReason: domain.SkipReasonNotEligible}, nil
	}

	event := domain.RewardEvent{
		ID:        uuid.New().String(),
		ProfileID: sub.ProfileID,
		Source:    sub.Source,
		SourceRef: sub.SourceRef,
		XPDelta:   sub.XPDelta,
		Reason:    sub.Reason,
		CreatedAt: time.Now().UTC(),
	}

	progress, err := e.store.ApplyEvent(ctx, event, sub.DisplayName, e.levels.LevelFor)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			e.logger.Debug("duplicate reward event",
				"profile_id", sub.ProfileID,
				"source", sub.Source,
				"source_ref", sub.SourceRef,
			)
			return &domain.AwardResult{Duplicate: true}, nil
		}
		return nil, fmt.Errorf("applying reward event: %w", err)
	}

	e.logger.Info("xp awarded",
		"profile_id", sub.ProfileID,
		"source", sub.Source,
		"source_ref", sub.SourceRef,
		"xp_delta", sub.XPDelta,
		"xp_total", progress.XPTotal,
		"level", progress.Level,
	)

	return &domain.AwardResult{
		Awarded: sub.XPDelta,
		XPTotal: progress.XPTotal,
		Level:   progress.Level,
	}, nil
}

// Progress returns the aggregate state for a profile. A profile with no
// applied events yet reports zero XP at level 1 rather than not-found.
func (e *Engine) Progress(ctx context.Context, profileID string) (*domain.Progress, error) {
	progress, err := e.store.Progress(ctx, profileID)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return &domain.Progress{
				ProfileID: profileID,
				Level:     e.levels.LevelFor(0),
			}, nil
		}
		return nil, fmt.Errorf("loading progress: %w", err)
	}
	return progress, nil
}

// Levels exposes the configured level curve for read surfaces.
func (e *Engine) Levels() *Levels {
	return e.levels
}
