package backoff_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scarson/queuectl/internal/backoff"
)

func TestExponential(t *testing.T) {
	cases := []struct {
		base     float64
		attempts int
		want     time.Duration
	}{
		{2, 0, 0},
		{2, 1, 2 * time.Second},
		{2, 2, 4 * time.Second},
		{2, 3, 8 * time.Second},
		{3, 2, 9 * time.Second},
		{1, 5, time.Second},
		{1.5, 2, 2250 * time.Millisecond},
		{0, 1, 2 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, backoff.Exponential(tc.base, tc.attempts), "base=%v attempts=%d", tc.base, tc.attempts)
	}
}

func TestExponential_Monotonic(t *testing.T) {
	prev := time.Duration(0)
	for k := 1; k <= 20; k++ {
		d := backoff.Exponential(2, k)
		assert.Greater(t, d, prev, "attempt %d", k)
		prev = d
	}
}

func TestExponential_Capped(t *testing.T) {
	assert.Equal(t, 365*24*time.Hour, backoff.Exponential(10, 400))
}
