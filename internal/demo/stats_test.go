package demo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestSummarize(t *testing.T) {
	tests := []struct {
		name   string
		values []time.Duration
		want   Stats
	}{
		{
			name: "empty",
			want: Stats{},
		},
		{
			name:   "single",
			values: []time.Duration{ms(5)},
			want:   Stats{Count: 1, Min: ms(5), Median: ms(5), P99: ms(5), Max: ms(5), Mean: ms(5)},
		},
		{
			name:   "odd count",
			values: []time.Duration{ms(9), ms(1), ms(5)},
			want:   Stats{Count: 3, Min: ms(1), Median: ms(5), P99: ms(9), Max: ms(9), Mean: ms(5)},
		},
		{
			name:   "even count averages the middle pair",
			values: []time.Duration{ms(4), ms(1), ms(2), ms(3)},
			want:   Stats{Count: 4, Min: ms(1), Median: 2500 * time.Microsecond, P99: ms(4), Max: ms(4), Mean: 2500 * time.Microsecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.values))
		})
	}
}

func TestSummarize_P99(t *testing.T) {
	values := make([]time.Duration, 200)
	for i := range values {
		values[i] = ms(i + 1)
	}
	s := Summarize(values)
	assert.Equal(t, ms(199), s.P99, "index n - n/100")
	assert.Equal(t, ms(200), s.Max)
	assert.Equal(t, ms(1), values[0], "input must not be reordered")
}

func TestStats_Halve(t *testing.T) {
	s := Stats{Count: 2, Min: ms(2), Median: ms(4), P99: ms(6), Max: ms(8), Mean: ms(10)}
	assert.Equal(t, Stats{Count: 2, Min: ms(1), Median: ms(2), P99: ms(3), Max: ms(4), Mean: ms(5)}, s.Halve())
}
