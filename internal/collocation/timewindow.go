package collocation

import "time"

// MatchTimes returns the indices of times inside the window around a target.
//
// With a zero end, or end equal to start, the window is
// [start-window, start+window], closed at both ends. Otherwise it is
// [start-window, end+window), open at the end. Existing result sets depend on
// both bounds.
func MatchTimes(times []time.Time, start, end time.Time, window time.Duration) []int {
	lo := start.Add(-window)
	idx := make([]int, 0)

	if end.IsZero() || end.Equal(start) {
		hi := start.Add(window)
		for i, t := range times {
			if !t.Before(lo) && !t.After(hi) {
				idx = append(idx, i)
			}
		}
		return idx
	}

	hi := end.Add(window)
	for i, t := range times {
		if !t.Before(lo) && t.Before(hi) {
			idx = append(idx, i)
		}
	}
	return idx
}
