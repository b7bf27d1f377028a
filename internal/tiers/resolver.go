package tiers

import (
	"sort"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
)

// ResolveXp maps an order subtotal to an XP amount using the given tier
// schedule. Tiers may arrive in any order; the highest qualifying
// subtotal_min wins. Returns 0 when no tier qualifies or the schedule is
// empty.
//
// This is the single resolution implementation shared by the preview
// path and the award path. It is pure: the input slice is never mutated.
func ResolveXp(subtotal float64, schedule []domain.PurchaseTier) int64 {
	if len(schedule) == 0 {
		return 0
	}

	sorted := make([]domain.PurchaseTier, len(schedule))
	copy(sorted, schedule)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].SubtotalMin > sorted[j].SubtotalMin
	})

	for _, tier := range sorted {
		if tier.SubtotalMin <= subtotal {
			return tier.XP
		}
	}
	return 0
}
