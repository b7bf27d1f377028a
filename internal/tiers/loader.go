package tiers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
)

// ErrNoSnapshot is returned by a SnapshotSource that has no stored tier
// configuration. The loader substitutes the fallback schedule.
var ErrNoSnapshot = errors.New("no purchase tier snapshot stored")

// SnapshotSource fetches the current versioned purchase tier schedule.
type SnapshotSource interface {
	PurchaseTierSnapshot(ctx context.Context) (*domain.PurchaseTierConfig, error)
}

// Loader resolves purchase XP against the stored tier snapshot, fetched
// once per resolution so configuration changes take effect without a
// restart.
type Loader struct {
	source   SnapshotSource
	fallback []domain.PurchaseTier
	logger   *slog.Logger
}

// NewLoader creates a tier loader. The fallback schedule is used when the
// source has no snapshot.
func NewLoader(source SnapshotSource, fallback []domain.PurchaseTier, logger *slog.Logger) *Loader {
	return &Loader{
		source:   source,
		fallback: fallback,
		logger:   logger,
	}
}

// Schedule returns the tier schedule in effect right now.
func (l *Loader) Schedule(ctx context.Context) ([]domain.PurchaseTier, error) {
	snapshot, err := l.source.PurchaseTierSnapshot(ctx)
	if err != nil {
		if errors.Is(err, ErrNoSnapshot) {
			return l.fallback, nil
		}
		return nil, fmt.Errorf("loading tier snapshot: %w", err)
	}
	if len(snapshot.Tiers) == 0 {
		l.logger.Warn("stored tier snapshot is empty, using fallback schedule", "version", snapshot.Version)
		return l.fallback, nil
	}
	return snapshot.Tiers, nil
}

// Resolve returns the XP a purchase of the given subtotal earns under the
// schedule in effect right now.
func (l *Loader) Resolve(ctx context.Context, subtotal float64) (int64, error) {
	schedule, err := l.Schedule(ctx)
	if err != nil {
		return 0, err
	}
	return ResolveXp(subtotal, schedule), nil
}
