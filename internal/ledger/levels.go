package ledger

// Levels is the step function mapping an XP total to a level. Thresholds
// are the ascending totals at which each level starts; index 0 is level 1
// and is always 0, so the function is total for every reachable XP value,
// negatives included.
type Levels struct {
	thresholds []int64
}

// NewLevels creates a level curve from validated config thresholds.
func NewLevels(thresholds []int64) *Levels {
	copied := make([]int64, len(thresholds))
	copy(copied, thresholds)
	return &Levels{thresholds: copied}
}

// LevelFor returns the level for an XP total. Monotonic non-decreasing in
// the total; any total below the second threshold is level 1.
func (l *Levels) LevelFor(xpTotal int64) int {
	level := 1
	for i := 1; i < len(l.thresholds); i++ {
		if xpTotal < l.thresholds[i] {
			break
		}
		level = i + 1
	}
	return level
}

// NextThreshold returns the XP total at which the next level starts, and
// false when the total is already at the top level.
func (l *Levels) NextThreshold(xpTotal int64) (int64, bool) {
	for i := 1; i < len(l.thresholds); i++ {
		if xpTotal < l.thresholds[i] {
			return l.thresholds[i], true
		}
	}
	return 0, false
}
