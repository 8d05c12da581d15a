package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_ExponentialUntilCap(t *testing.T) {
	base := 30 * time.Second
	cap := 15 * time.Minute

	assert.Equal(t, 30*time.Second, Backoff(0, base, cap))
	assert.Equal(t, 60*time.Second, Backoff(1, base, cap))
	assert.Equal(t, 120*time.Second, Backoff(2, base, cap))
	assert.Equal(t, cap, Backoff(10, base, cap), "large retry counts saturate at cap")
}

func TestBackoff_Monotonic(t *testing.T) {
	base := 30 * time.Second
	cap := 15 * time.Minute
	prev := time.Duration(0)
	for i := 0; i < 8; i++ {
		d := Backoff(i, base, cap)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
	}
}

func TestSortCandidates_PriorityThenSchedule(t *testing.T) {
	now := time.Now()
	cands := []candidate{
		{ID: 1, Priority: "normal", ScheduledAt: now},
		{ID: 2, Priority: "high", ScheduledAt: now.Add(time.Minute)},
		{ID: 3, Priority: "low", ScheduledAt: now.Add(-time.Minute)},
		{ID: 4, Priority: "normal", ScheduledAt: now.Add(-time.Second)},
	}
	sortCandidates(cands)

	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.ID
	}
	// high first, then normal ordered by scheduled_at ascending, then low.
	assert.Equal(t, []int64{2, 4, 1, 3}, ids)
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, priorityRank("high"), priorityRank("normal"))
	assert.Less(t, priorityRank("normal"), priorityRank("low"))
	assert.Equal(t, priorityRank("normal"), priorityRank("unrecognized"))
}
