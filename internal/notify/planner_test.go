package notify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offerwall/reconciler-service/internal/model"
	"offerwall/reconciler-service/internal/notify"
)

func TestPlan_ExampleScenario(t *testing.T) {
	batches, err := notify.Plan(5, 2, 24)
	require.NoError(t, err)

	assert.Equal(t, []model.Batch{
		{Index: 0, Start: 0, End: 2, ScheduledOffsetHours: 0},
		{Index: 1, Start: 2, End: 4, ScheduledOffsetHours: 24},
		{Index: 2, Start: 4, End: 5, ScheduledOffsetHours: 48},
	}, batches)
}

func TestPlan_PartitionProperties(t *testing.T) {
	for n := 0; n <= 23; n++ {
		for k := 1; k <= 7; k++ {
			for _, h := range []float64{0, 0.5, 6, 24} {
				batches, err := notify.Plan(n, k, h)
				require.NoError(t, err)

				assert.Len(t, batches, (n+k-1)/k, "n=%d k=%d", n, k)

				next := 0
				for i, b := range batches {
					assert.Equal(t, i, b.Index)
					assert.Equal(t, next, b.Start, "contiguous n=%d k=%d", n, k)
					assert.LessOrEqual(t, b.Len(), k)
					assert.Positive(t, b.Len())
					next = b.End
					if i == 0 {
						assert.Zero(t, b.ScheduledOffsetHours)
					} else {
						assert.Greater(t, b.ScheduledOffsetHours, batches[i-1].ScheduledOffsetHours)
					}
				}
				assert.Equal(t, n, next, "covers all n=%d k=%d", n, k)
			}
		}
	}
}

func TestPlan_ZeroIntervalStaggers(t *testing.T) {
	batches, err := notify.Plan(3, 1, 0)
	require.NoError(t, err)

	require.Len(t, batches, 3)
	assert.Zero(t, batches[0].ScheduledOffsetHours)
	assert.InDelta(t, notify.StaggerHours, batches[1].ScheduledOffsetHours, 1e-12)
	assert.InDelta(t, 2*notify.StaggerHours, batches[2].ScheduledOffsetHours, 1e-12)
	assert.Equal(t, "30s", batches[1].Offset().String())
}

func TestPlan_Invalid(t *testing.T) {
	_, err := notify.Plan(5, 0, 24)
	assert.Error(t, err)

	_, err = notify.Plan(-1, 2, 24)
	assert.Error(t, err)

	_, err = notify.Plan(5, 2, -1)
	assert.Error(t, err)
}

func TestPlan_Empty(t *testing.T) {
	batches, err := notify.Plan(0, 10, 24)
	require.NoError(t, err)
	assert.Empty(t, batches)
}
