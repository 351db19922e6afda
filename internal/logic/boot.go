package logic

import "time"

// Default boot-check timing.
const (
	DefaultBootWindow = 6 * time.Second
	DefaultBootHold   = 4 * time.Second
)

// HeldDurations pairs each press with the release that immediately follows
// it and returns the held durations. Pairs whose release is stamped before
// the press are skipped and counted in discarded.
func HeldDurations(edges []Edge) (durations []time.Duration, discarded int) {
	for i := 0; i+1 < len(edges); i++ {
		down, up := edges[i], edges[i+1]
		if !down.Pressed || up.Pressed {
			continue
		}
		if up.Time.Before(down.Time) {
			discarded++
			continue
		}
		durations = append(durations, up.Time.Sub(down.Time))
	}
	return durations, discarded
}

// AnyLongerThan reports whether any duration exceeds threshold.
func AnyLongerThan(durations []time.Duration, threshold time.Duration) bool {
	for _, d := range durations {
		if d > threshold {
			return true
		}
	}
	return false
}
