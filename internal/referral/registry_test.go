package referral

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
)

// memStore enforces the same uniqueness the Postgres store does: one code
// per profile, one profile per code, one event per source_ref.
type memStore struct {
	mu        sync.Mutex
	byProfile map[string]domain.ReferralCode
	byCode    map[string]domain.ReferralCode
	events    map[string]domain.ReferralEvent
}

func newMemStore() *memStore {
	return &memStore{
		byProfile: make(map[string]domain.ReferralCode),
		byCode:    make(map[string]domain.ReferralCode),
		events:    make(map[string]domain.ReferralEvent),
	}
}

func (s *memStore) CodeByProfile(ctx context.Context, profileID string) (*domain.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.byProfile[profileID]
	if !ok {
		return nil, domain.ErrReferralNotFound
	}
	return &code, nil
}

func (s *memStore) CodeByValue(ctx context.Context, value string) (*domain.ReferralCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code, ok := s.byCode[value]
	if !ok {
		return nil, domain.ErrReferralNotFound
	}
	return &code, nil
}

func (s *memStore) InsertCode(ctx context.Context, code domain.ReferralCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byProfile[code.ProfileID]; exists {
		return domain.ErrDuplicateCode
	}
	if _, exists := s.byCode[code.Code]; exists {
		return domain.ErrDuplicateCode
	}
	s.byProfile[code.ProfileID] = code
	s.byCode[code.Code] = code
	return nil
}

func (s *memStore) InsertEvent(ctx context.Context, event domain.ReferralEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.SourceRef]; exists {
		return domain.ErrDuplicateEvent
	}
	s.events[event.SourceRef] = event
	return nil
}

func newTestRegistry(store Store) *Registry {
	return NewRegistry(store, "MNKY-", slog.Default())
}

func TestGetOrCreateCode(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	registry := newTestRegistry(store)

	first, err := registry.GetOrCreateCode(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.True(t, len(first.Code) > 0)

	second, err := registry.GetOrCreateCode(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Code, second.Code)

	assert.Len(t, store.byProfile, 1)
}

func TestGetOrCreateCodeConcurrent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	registry := newTestRegistry(store)

	const callers = 8
	results := make([]*domain.CodeIssue, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = registry.GetOrCreateCode(ctx, "p1")
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "losing a creation race must not error")
		assert.Equal(t, results[0].Code, results[i].Code, "all callers must see the same code")
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created, "exactly one caller creates the code")
	assert.Len(t, store.byProfile, 1)
}

func TestApplyReferral(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	registry := newTestRegistry(store)

	issue, err := registry.GetOrCreateCode(ctx, "referrer")
	require.NoError(t, err)

	result, err := registry.ApplyReferral(ctx, issue.Code, "referee", domain.ReferralSignedUp)
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.False(t, result.Duplicate)
	assert.Equal(t, "referrer", result.ReferrerID)

	stored := store.events["referee:signed_up"]
	assert.Equal(t, "referee", stored.RefereeID)
	assert.Equal(t, issue.Code, stored.CodeUsed)
}

func TestApplyReferralIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	registry := newTestRegistry(store)

	issue, err := registry.GetOrCreateCode(ctx, "referrer")
	require.NoError(t, err)

	first, err := registry.ApplyReferral(ctx, issue.Code, "referee", domain.ReferralSignedUp)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := registry.ApplyReferral(ctx, issue.Code, "referee", domain.ReferralSignedUp)
	require.NoError(t, err, "reapplication must be a successful duplicate")
	assert.True(t, second.Applied)
	assert.True(t, second.Duplicate)

	assert.Len(t, store.events, 1)

	// A different milestone for the same referee is a fresh event
	third, err := registry.ApplyReferral(ctx, issue.Code, "referee", domain.ReferralFirstOrder)
	require.NoError(t, err)
	assert.False(t, third.Duplicate)
	assert.Len(t, store.events, 2)
}

func TestApplyReferralSelfReferral(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(newMemStore())

	issue, err := registry.GetOrCreateCode(ctx, "p1")
	require.NoError(t, err)

	_, err = registry.ApplyReferral(ctx, issue.Code, "p1", domain.ReferralSignedUp)
	assert.ErrorIs(t, err, domain.ErrSelfReferral)
}

func TestApplyReferralUnknownCode(t *testing.T) {
	registry := newTestRegistry(newMemStore())

	_, err := registry.ApplyReferral(context.Background(), "MNKY-XXXXXX", "referee", domain.ReferralSignedUp)
	assert.ErrorIs(t, err, domain.ErrReferralNotFound)
}

func TestApplyReferralRejectsBadInput(t *testing.T) {
	registry := newTestRegistry(newMemStore())
	ctx := context.Background()

	_, err := registry.ApplyReferral(ctx, "", "referee", domain.ReferralSignedUp)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = registry.ApplyReferral(ctx, "MNKY-AB12CD", "referee", "upgraded")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
