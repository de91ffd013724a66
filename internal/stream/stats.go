package stream

import "time"

// runningStats is the "exponential-free running mean" of per-frame
// processing time spec.md section 3/4.6 describes: a plain cumulative
// average, not an EWMA, so it converges to the true mean regardless of how
// many frames have been produced so far.
type runningStats struct {
	count int64
	mean  time.Duration
}

func (s *runningStats) update(d time.Duration) {
	s.count++
	s.mean += (d - s.mean) / time.Duration(s.count)
}

func (s *runningStats) Mean() time.Duration {
	return s.mean
}
