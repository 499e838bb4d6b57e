package demo

import (
	"slices"
	"time"
)

// Stats summarizes a series of durations.
type Stats struct {
	Count  int           `json:"count"`
	Min    time.Duration `json:"min"`
	Median time.Duration `json:"median"`
	P99    time.Duration `json:"p99"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
}

// Summarize computes Stats over values. values is not modified.
func Summarize(values []time.Duration) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	var sum time.Duration
	for _, v := range sorted {
		sum += v
	}

	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	// index of the 99th percentile, clamped for short series
	p99 := n - n/100
	if p99 >= n {
		p99 = n - 1
	}

	return Stats{
		Count:  n,
		Min:    sorted[0],
		Median: median,
		P99:    sorted[p99],
		Max:    sorted[n-1],
		Mean:   sum / time.Duration(n),
	}
}

// Halve returns the stats divided by two, turning round trips into one-way
// latency estimates.
func (s Stats) Halve() Stats {
	return Stats{
		Count:  s.Count,
		Min:    s.Min / 2,
		Median: s.Median / 2,
		P99:    s.P99 / 2,
		Max:    s.Max / 2,
		Mean:   s.Mean / 2,
	}
}
