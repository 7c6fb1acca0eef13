package worker

import (
	"testing"
	"time"
)

func TestRetryDelayGrowsExponentiallyUpToCap(t *testing.T) {
	w := &Worker{cfg: Config{BackoffBase: 30 * time.Second, BackoffCap: 10 * time.Minute}}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, 60 * time.Second},
		{3, 120 * time.Second},
		{4, 240 * time.Second},
		{5, 480 * time.Second},
		{6, 10 * time.Minute}, // 960s would exceed the 600s cap
		{20, 10 * time.Minute},
	}
	for _, c := range cases {
		got := w.retryDelay(c.attempt, nil, nil)
		if got != c.want {
			t.Errorf("attempt %d: got %v, want %v", c.attempt, got, c.want)
		}
	}
}
