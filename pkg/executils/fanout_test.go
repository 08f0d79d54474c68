package executils

import (
	"sync"
	"testing"
)

func TestFanOutVisitsEveryValue(t *testing.T) {
	tests := map[string]struct {
		size      int
		threshold int
		step      int
	}{
		"sequential":     {size: 10, threshold: 64, step: 8},
		"parallel":       {size: 1000, threshold: 64, step: 8},
		"uneven batches": {size: 101, threshold: 1, step: 7},
		"zero step":      {size: 50, threshold: 1, step: 0},
		"empty":          {size: 0, threshold: 1, step: 4},
	}

	for name, testCase := range tests {
		testCase := testCase
		t.Run(name, func(t *testing.T) {
			vals := make([]int, testCase.size)
			for i := range vals {
				vals[i] = i
			}

			var mu sync.Mutex
			seen := make(map[int]int)
			FanOut(vals, testCase.threshold, testCase.step, func(v int) {
				mu.Lock()
				seen[v]++
				mu.Unlock()
			})

			if len(seen) != testCase.size {
				t.Fatalf("visited %d values, want %d", len(seen), testCase.size)
			}
			for v, n := range seen {
				if n != 1 {
					t.Fatalf("value %d visited %d times", v, n)
				}
			}
		})
	}
}
