package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/config"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/leaderboard"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/ledger"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/referral"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/tiers"
)

// memLedgerStore backs the engine with map state, deduping on
// (source, source_ref) the way the Postgres store does.
type memLedgerStore struct {
	mu     sync.Mutex
	refs   map[string]bool
	totals map[string]int64
	levels map[string]int
	events []domain.RewardEvent
}

func newMemLedgerStore() *memLedgerStore {
	return &memLedgerStore{
		refs:   make(map[string]bool),
		totals: make(map[string]int64),
		levels: make(map[string]int),
	}
}

func (s *memLedgerStore) ApplyEvent(ctx context.Context, event domain.RewardEvent, displayName string, levelFor func(int64) int) (*domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.SourceRef != "" {
		key := string(event.Source) + "|" + event.SourceRef
		if s.refs[key] {
			return nil, domain.ErrDuplicateEvent
		}
		s.refs[key] = true
	}
	s.events = append(s.events, event)
	s.totals[event.ProfileID] += event.XPDelta
	s.levels[event.ProfileID] = levelFor(s.totals[event.ProfileID])

	return &domain.Progress{
		ProfileID: event.ProfileID,
		XPTotal:   s.totals[event.ProfileID],
		Level:     s.levels[event.ProfileID],
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (s *memLedgerStore) Progress(ctx context.Context, profileID string) (*domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, ok := s.totals[profileID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return &domain.Progress{ProfileID: profileID, XPTotal: total, Level: s.levels[profileID]}, nil
}

func (s *memLedgerStore) total(profileID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals[profileID]
}

func (s *memLedgerStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type allowAllGate struct{}

func (allowAllGate) IsEligible(ctx context.Context, profileID string) (bool, error) {
	return true, nil
}

// memReferralStore holds codes and attribution events in maps with the
// same uniqueness rules the Postgres store enforces.
type memReferralStore struct {
	mu      sync.Mutex
	byOwner map[string]domain.ReferralCode
	byCode  map[string]domain.ReferralCode
	refs    map[string]bool
}

func newMemReferralStore() *memReferralStore {
	return &memReferralStore{
		byOwner: make(map[string]domain.ReferralCode),
		byCode:  make(map[string]domain.ReferralCode),
		refs:    make(map[string]bool),
	}
}

func (s *memReferralStore) CodeByProfile(ctx context.Context, profileID string) (*domain.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.byOwner[profileID]
	if !ok {
		return nil, domain.ErrReferralNotFound
	}
	return &code, nil
}

func (s *memReferralStore) CodeByValue(ctx context.Context, code string) (*domain.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.byCode[code]
	if !ok {
		return nil, domain.ErrReferralNotFound
	}
	return &row, nil
}

func (s *memReferralStore) InsertCode(ctx context.Context, code domain.ReferralCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byOwner[code.ProfileID]; exists {
		return domain.ErrDuplicateCode
	}
	if _, exists := s.byCode[code.Code]; exists {
		return domain.ErrDuplicateCode
	}
	s.byOwner[code.ProfileID] = code
	s.byCode[code.Code] = code
	return nil
}

func (s *memReferralStore) InsertEvent(ctx context.Context, event domain.ReferralEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs[event.SourceRef] {
		return domain.ErrDuplicateEvent
	}
	s.refs[event.SourceRef] = true
	return nil
}

// memTierStore doubles as the snapshot source so a saved schedule takes
// effect on the next resolution.
type memTierStore struct {
	mu       sync.Mutex
	snapshot *domain.PurchaseTierConfig
}

func (s *memTierStore) PurchaseTierSnapshot(ctx context.Context) (*domain.PurchaseTierConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil, tiers.ErrNoSnapshot
	}
	return s.snapshot, nil
}

func (s *memTierStore) SavePurchaseTiers(ctx context.Context, schedule []domain.PurchaseTier) (*domain.PurchaseTierConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := 1
	if s.snapshot != nil {
		version = s.snapshot.Version + 1
	}
	s.snapshot = &domain.PurchaseTierConfig{Version: version, Tiers: schedule}
	return s.snapshot, nil
}

type fakeCache struct {
	mu     sync.Mutex
	totals map[string]int64
	ranks  map[string]int64
	top    []domain.LeaderboardEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{totals: make(map[string]int64), ranks: make(map[string]int64)}
}

func (c *fakeCache) IncrementXP(ctx context.Context, profileID string, delta int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals[profileID] += delta
	return c.totals[profileID], nil
}

func (c *fakeCache) Rank(ctx context.Context, profileID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rank, ok := c.ranks[profileID]
	if !ok {
		return 0, domain.ErrProfileNotFound
	}
	return rank, nil
}

func (c *fakeCache) Top(ctx context.Context, n int) ([]domain.LeaderboardEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.top, nil
}

func (c *fakeCache) cachedTotal(profileID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[profileID]
}

type fakeHub struct {
	mu          sync.Mutex
	xpUpdates   []domain.Progress
	boardPushes int
}

func (h *fakeHub) BroadcastXP(progress domain.Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.xpUpdates = append(h.xpUpdates, progress)
}

func (h *fakeHub) BroadcastLeaderboard(entries []domain.LeaderboardEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.boardPushes++
}

type staticReader struct {
	entries []domain.LeaderboardEntry
}

func (r *staticReader) TopProfiles(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit < len(r.entries) {
		return r.entries[:limit], nil
	}
	return r.entries, nil
}

type fixture struct {
	svc       *RewardService
	store     *memLedgerStore
	refStore  *memReferralStore
	tierStore *memTierStore
	cache     *fakeCache
	hub       *fakeHub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))

	store := newMemLedgerStore()
	refStore := newMemReferralStore()
	tierStore := &memTierStore{}
	cache := newFakeCache()
	hub := &fakeHub{}

	levels := ledger.NewLevels([]int64{0, 100, 250, 500, 1000})
	engine := ledger.NewEngine(store, allowAllGate{}, levels, logger)
	fallback := []domain.PurchaseTier{{SubtotalMin: 25, XP: 50}, {SubtotalMin: 75, XP: 150}}
	loader := tiers.NewLoader(tierStore, fallback, logger)
	registry := referral.NewRegistry(refStore, "MNKY-", logger)
	projector := leaderboard.NewProjector(&staticReader{}, 50, 100)

	cfg := &config.ReferralConfig{CodePrefix: "MNKY-", SignedUpXP: 100, FirstOrderXP: 250}
	svc := NewRewardService(engine, loader, registry, projector, cache, tierStore, cfg, logger)
	svc.SetHub(hub)

	return &fixture{svc: svc, store: store, refStore: refStore, tierStore: tierStore, cache: cache, hub: hub}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestAwardResolvesPurchaseXPFromSubtotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Award(ctx, domain.RewardSubmission{
		ProfileID: "p1",
		Source:    domain.SourcePurchase,
		SourceRef: "order-1001",
		Subtotal:  99.99,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(150), result.Awarded)
	assert.Equal(t, int64(150), result.XPTotal)
	assert.Equal(t, 2, result.Level)
	assert.Equal(t, int64(150), f.store.total("p1"))
}

func TestAwardBelowLowestTierWritesNothing(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Award(context.Background(), domain.RewardSubmission{
		ProfileID: "p1",
		Source:    domain.SourcePurchase,
		SourceRef: "order-1002",
		Subtotal:  10,
	})
	require.NoError(t, err)
	assert.Zero(t, result.Awarded)
	assert.False(t, result.Duplicate)
	assert.Zero(t, f.store.eventCount())
	assert.Zero(t, f.cache.cachedTotal("p1"))
}

func TestAwardExplicitDeltaBypassesResolver(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Award(context.Background(), domain.RewardSubmission{
		ProfileID: "p1",
		Source:    domain.SourcePurchase,
		SourceRef: "order-1003",
		XPDelta:   42,
		Subtotal:  99.99,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Awarded)
}

func TestAwardUpdatesCacheAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	f.cache.top = []domain.LeaderboardEntry{{ProfileID: "p1", XPTotal: 75}}

	_, err := f.svc.Award(context.Background(), domain.RewardSubmission{
		ProfileID: "p1",
		Source:    domain.SourceQuest,
		SourceRef: "quest-7",
		XPDelta:   75,
	})
	require.NoError(t, err)

	assert.Equal(t, int64(75), f.cache.cachedTotal("p1"))
	require.Len(t, f.hub.xpUpdates, 1)
	assert.Equal(t, "p1", f.hub.xpUpdates[0].ProfileID)
	assert.Equal(t, int64(75), f.hub.xpUpdates[0].XPTotal)
	assert.Equal(t, 1, f.hub.boardPushes)
}

func TestAwardDuplicateSkipsSidePaths(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := domain.RewardSubmission{
		ProfileID: "p1",
		Source:    domain.SourceQuest,
		SourceRef: "quest-7",
		XPDelta:   75,
	}

	_, err := f.svc.Award(ctx, sub)
	require.NoError(t, err)

	result, err := f.svc.Award(ctx, sub)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, int64(75), f.cache.cachedTotal("p1"), "cache not incremented twice")
	assert.Len(t, f.hub.xpUpdates, 1)
}

func TestPreviewMatchesAward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, subtotal := range []float64{10, 25, 50, 74.99, 75, 200} {
		preview, err := f.svc.PreviewPurchase(ctx, subtotal)
		require.NoError(t, err)

		result, err := f.svc.Award(ctx, domain.RewardSubmission{
			ProfileID: "p1",
			Source:    domain.SourcePurchase,
			Subtotal:  subtotal,
		})
		require.NoError(t, err)
		assert.Equal(t, preview, result.Awarded, "subtotal %.2f", subtotal)
	}
}

func TestSaveTierScheduleTakesEffect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.svc.SaveTierSchedule(ctx, []domain.PurchaseTier{
		{SubtotalMin: 10, XP: 20},
		{SubtotalMin: 100, XP: 300},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Version)

	xp, err := f.svc.PreviewPurchase(ctx, 99.99)
	require.NoError(t, err)
	assert.Equal(t, int64(20), xp, "fallback schedule no longer applies")

	xp, err = f.svc.PreviewPurchase(ctx, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(300), xp)
}

func TestSaveTierScheduleRejectsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SaveTierSchedule(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.svc.SaveTierSchedule(ctx, []domain.PurchaseTier{{SubtotalMin: -5, XP: 10}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.svc.SaveTierSchedule(ctx, []domain.PurchaseTier{{SubtotalMin: 5, XP: -10}})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestApplyReferralAwardsReferrer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issue, err := f.svc.GetOrCreateCode(ctx, "referrer")
	require.NoError(t, err)
	require.True(t, issue.Created)

	result, err := f.svc.ApplyReferral(ctx, issue.Code, "referee", domain.ReferralSignedUp)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "referrer", result.ReferrerID)
	assert.Equal(t, int64(100), f.store.total("referrer"))

	result, err = f.svc.ApplyReferral(ctx, issue.Code, "referee", domain.ReferralFirstOrder)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, int64(350), f.store.total("referrer"))
}

func TestApplyReferralRedeliveryAwardsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issue, err := f.svc.GetOrCreateCode(ctx, "referrer")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		result, err := f.svc.ApplyReferral(ctx, issue.Code, "referee", domain.ReferralSignedUp)
		require.NoError(t, err)
		assert.True(t, result.Applied)
		if i > 0 {
			assert.True(t, result.Duplicate)
		}
	}
	assert.Equal(t, int64(100), f.store.total("referrer"))
	assert.Equal(t, 1, f.store.eventCount())
}

func TestApplyReferralRetryCompletesMissedAward(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issue, err := f.svc.GetOrCreateCode(ctx, "referrer")
	require.NoError(t, err)

	// Attribution stored but the award never landed, as after a crash
	// between the two writes.
	err = f.refStore.InsertEvent(ctx, domain.ReferralEvent{
		ReferrerID: "referrer",
		RefereeID:  "referee",
		CodeUsed:   issue.Code,
		EventType:  domain.ReferralSignedUp,
		SourceRef:  domain.ReferralSourceRef("referee", domain.ReferralSignedUp),
	})
	require.NoError(t, err)

	result, err := f.svc.ApplyReferral(ctx, issue.Code, "referee", domain.ReferralSignedUp)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, int64(100), f.store.total("referrer"), "retry completes the missed award")
}

func TestApplyReferralSelfReferral(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issue, err := f.svc.GetOrCreateCode(ctx, "referrer")
	require.NoError(t, err)

	_, err = f.svc.ApplyReferral(ctx, issue.Code, "referrer", domain.ReferralSignedUp)
	assert.ErrorIs(t, err, domain.ErrSelfReferral)
	assert.Zero(t, f.store.total("referrer"))
}

func TestProgressIncludesRankAndNextLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Award(ctx, domain.RewardSubmission{
		ProfileID: "p1",
		Source:    domain.SourceQuest,
		XPDelta:   120,
	})
	require.NoError(t, err)
	f.cache.ranks["p1"] = 3

	view, err := f.svc.Progress(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), view.XPTotal)
	assert.Equal(t, 2, view.Level)
	assert.Equal(t, int64(3), view.Rank)
	assert.Equal(t, int64(250), view.NextLevelXP)
}

func TestProgressUnknownProfile(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.Progress(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, view.XPTotal)
	assert.Equal(t, 1, view.Level)
	assert.Zero(t, view.Rank)
}
