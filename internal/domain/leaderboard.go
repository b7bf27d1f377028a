package domain

// LeaderboardEntry is one row of the ranked XP view. It is computed on
// read and never persisted; Rank is 1-based within the returned page.
type LeaderboardEntry struct {
	Rank        int64  `json:"rank"`
	ProfileID   string `json:"profile_id"`
	DisplayName string `json:"display_name,omitempty"`
	XPTotal     int64  `json:"xp_total"`
	Level       int    `json:"level"`
}
