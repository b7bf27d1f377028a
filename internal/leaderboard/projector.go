package leaderboard

import (
	"context"
	"fmt"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
)

// Reader returns profiles ordered by XP total descending. Ties are broken
// by profile ID ascending so pagination stays deterministic.
type Reader interface {
	TopProfiles(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// Projector is the read-only ranked view over aggregate XP state. Ranks
// are 1-based and assigned within the returned page only; there is no
// global rank field.
type Projector struct {
	reader       Reader
	defaultLimit int
	maxLimit     int
}

// NewProjector creates a leaderboard projector.
func NewProjector(reader Reader, defaultLimit, maxLimit int) *Projector {
	return &Projector{
		reader:       reader,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// TopN returns the top profiles by XP total. A non-positive limit uses
// the default; anything above the maximum is clamped.
func (p *Projector) TopN(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = p.defaultLimit
	}
	if limit > p.maxLimit {
		limit = p.maxLimit
	}

	entries, err := p.reader.TopProfiles(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("reading top profiles: %w", err)
	}

	for i := range entries {
		entries[i].Rank = int64(i + 1)
	}
	return entries, nil
}
