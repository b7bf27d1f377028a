package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/config"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/leaderboard"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/ledger"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/referral"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/tiers"
)

// RankCache is the realtime view updated after each successful award.
// Cache failures never fail an award; Postgres is the source of truth.
type RankCache interface {
	IncrementXP(ctx context.Context, profileID string, delta int64) (int64, error)
	Rank(ctx context.Context, profileID string) (int64, error)
	Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error)
}

// TierStore persists new purchase tier schedule versions.
type TierStore interface {
	SavePurchaseTiers(ctx context.Context, schedule []domain.PurchaseTier) (*domain.PurchaseTierConfig, error)
}

// Broadcaster pushes XP and leaderboard updates to connected clients.
type Broadcaster interface {
	BroadcastXP(progress domain.Progress)
	BroadcastLeaderboard(entries []domain.LeaderboardEntry)
}

// RewardService is the producer-facing entrypoint over the ledger core.
// The HTTP handlers and the Kafka consumer both call it, so every
// ingestion path shares one set of semantics.
type RewardService struct {
	engine    *ledger.Engine
	tiers     *tiers.Loader
	referrals *referral.Registry
	projector *leaderboard.Projector
	cache     RankCache
	tierStore TierStore
	hub       Broadcaster
	cfg       *config.ReferralConfig
	logger    *slog.Logger
}

// NewRewardService creates a new reward service
func NewRewardService(
	engine *ledger.Engine,
	tierLoader *tiers.Loader,
	referrals *referral.Registry,
	projector *leaderboard.Projector,
	cache RankCache,
	tierStore TierStore,
	cfg *config.ReferralConfig,
	logger *slog.Logger,
) *RewardService {
	return &RewardService{
		engine:    engine,
		tiers:     tierLoader,
		referrals: referrals,
		projector: projector,
		cache:     cache,
		tierStore: tierStore,
		cfg:       cfg,
		logger:    logger,
	}
}

// SetHub attaches the websocket hub for realtime broadcasts.
func (s *RewardService) SetHub(hub Broadcaster) {
	s.hub = hub
}

// Award applies one reward submission. A purchase submission without an
// explicit delta has its XP resolved from the subtotal via the shared
// tier resolver, so the award path can never diverge from the preview.
func (s *RewardService) Award(ctx context.Context, sub domain.RewardSubmission) (*domain.AwardResult, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	if sub.Source == domain.SourcePurchase && sub.XPDelta == 0 {
		xp, err := s.tiers.Resolve(ctx, sub.Subtotal)
		if err != nil {
			return nil, fmt.Errorf("resolving purchase xp: %w", err)
		}
		if xp == 0 {
			// Below the lowest tier. Nothing to apply.
			return &domain.AwardResult{}, nil
		}
		sub.XPDelta = xp
	}

	result, err := s.engine.Award(ctx, sub)
	if err != nil {
		return nil, err
	}

	if result.Awarded != 0 {
		s.afterAward(ctx, sub.ProfileID, result)
	}
	return result, nil
}

// afterAward updates the realtime cache and notifies websocket clients.
// Both are best-effort side paths; failures are logged, never surfaced.
func (s *RewardService) afterAward(ctx context.Context, profileID string, result *domain.AwardResult) {
	if s.cache != nil {
		if _, err := s.cache.IncrementXP(ctx, profileID, result.Awarded); err != nil {
			s.logger.Warn("failed to update rank cache", "profile_id", profileID, "error", err)
		}
	}

	if s.hub == nil {
		return
	}
	s.hub.BroadcastXP(domain.Progress{
		ProfileID: profileID,
		XPTotal:   result.XPTotal,
		Level:     result.Level,
	})
	if s.cache != nil {
		if top, err := s.cache.Top(ctx, 10); err == nil {
			s.hub.BroadcastLeaderboard(top)
		}
	}
}

// PreviewPurchase returns the XP a purchase of the given subtotal would
// earn right now, without writing anything.
func (s *RewardService) PreviewPurchase(ctx context.Context, subtotal float64) (int64, error) {
	return s.tiers.Resolve(ctx, subtotal)
}

// SaveTierSchedule stores a new purchase tier schedule version.
func (s *RewardService) SaveTierSchedule(ctx context.Context, schedule []domain.PurchaseTier) (*domain.PurchaseTierConfig, error) {
	if len(schedule) == 0 {
		return nil, domain.ErrInvalidRequest
	}
	for _, tier := range schedule {
		if tier.SubtotalMin < 0 || tier.XP < 0 {
			return nil, domain.ErrInvalidRequest
		}
	}
	return s.tierStore.SavePurchaseTiers(ctx, schedule)
}

// ProgressView is a profile's aggregate state plus its realtime rank and
// the XP total at which the next level starts.
type ProgressView struct {
	domain.Progress
	Rank        int64 `json:"rank,omitempty"`
	NextLevelXP int64 `json:"next_level_xp,omitempty"`
}

// Progress returns a profile's XP progress summary.
func (s *RewardService) Progress(ctx context.Context, profileID string) (*ProgressView, error) {
	progress, err := s.engine.Progress(ctx, profileID)
	if err != nil {
		return nil, err
	}

	view := &ProgressView{Progress: *progress}
	if next, ok := s.engine.Levels().NextThreshold(progress.XPTotal); ok {
		view.NextLevelXP = next
	}

	if s.cache != nil {
		rank, err := s.cache.Rank(ctx, profileID)
		switch {
		case err == nil:
			view.Rank = rank
		case !errors.Is(err, domain.ErrProfileNotFound):
			s.logger.Warn("failed to read cached rank", "profile_id", profileID, "error", err)
		}
	}
	return view, nil
}

// TopN returns the ranked leaderboard page.
func (s *RewardService) TopN(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	return s.projector.TopN(ctx, limit)
}

// GetOrCreateCode returns the profile's referral code, creating it on
// first request.
func (s *RewardService) GetOrCreateCode(ctx context.Context, profileID string) (*domain.CodeIssue, error) {
	return s.referrals.GetOrCreateCode(ctx, profileID)
}

// ApplyReferral attributes a referral milestone and awards the referrer.
// The award shares the referral's source_ref, so a redelivered milestone
// dedupes on both sides: the attribution comes back duplicate and the
// reward event insert is a no-op. The award runs even when the
// attribution is a duplicate, which lets a retry complete an award that
// failed transiently after the attribution was stored.
func (s *RewardService) ApplyReferral(ctx context.Context, code, refereeID string, eventType domain.ReferralEventType) (*domain.ReferralResult, error) {
	result, err := s.referrals.ApplyReferral(ctx, code, refereeID, eventType)
	if err != nil {
		return nil, err
	}

	xp := s.cfg.SignedUpXP
	if eventType == domain.ReferralFirstOrder {
		xp = s.cfg.FirstOrderXP
	}

	award, err := s.Award(ctx, domain.RewardSubmission{
		ProfileID: result.ReferrerID,
		Source:    domain.SourceReferral,
		SourceRef: domain.ReferralSourceRef(refereeID, eventType),
		XPDelta:   xp,
		Reason:    fmt.Sprintf("referral %s by %s", eventType, refereeID),
	})
	if err != nil {
		return nil, fmt.Errorf("awarding referral xp: %w", err)
	}
	if award.SkippedReason != "" {
		s.logger.Info("referral xp skipped",
			"referrer_id", result.ReferrerID,
			"reason", award.SkippedReason,
		)
	}

	return result, nil
}
