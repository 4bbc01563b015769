package backoff

import "time"

// FallbackLevel is used for any level outside the table.
const FallbackLevel = 15

var delayLevels = [...]time.Duration{
	1:  5 * time.Second,
	2:  10 * time.Second,
	3:  15 * time.Second,
	4:  30 * time.Second,
	5:  40 * time.Second,
	6:  50 * time.Second,
	7:  time.Minute,
	8:  2 * time.Minute,
	9:  3 * time.Minute,
	10: 4 * time.Minute,
	11: 5 * time.Minute,
	12: 10 * time.Minute,
	13: 15 * time.Minute,
	14: 30 * time.Minute,
	15: time.Hour,
	16: 2 * time.Hour,
	17: 3 * time.Hour,
	18: 6 * time.Hour,
	19: 12 * time.Hour,
	20: 18 * time.Hour,
	21: 24 * time.Hour,
	22: 30 * time.Hour,
	23: 34 * time.Hour,
	24: 40 * time.Hour,
	25: 46 * time.Hour,
	26: 50 * time.Hour,
}

// MaxLevel is the highest level in the table.
const MaxLevel = len(delayLevels) - 1

// DelayOf returns the wait for level, falling back to FallbackLevel.
func DelayOf(level int) time.Duration {
	if level < 1 || level > MaxLevel {
		return delayLevels[FallbackLevel]
	}
	return delayLevels[level]
}
