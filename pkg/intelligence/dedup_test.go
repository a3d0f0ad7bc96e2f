package intelligence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/impression-go/pkg/intelligence"
)

func TestDedupTracker_RecordTwice(t *testing.T) {
	tracker := intelligence.NewDedupTracker(newStore(t), nil)
	ctx := context.Background()

	done, err := tracker.IsProcessed(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.False(t, done)

	inserted, err := tracker.Record(ctx, "u1", "m1", 0)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = tracker.Record(ctx, "u1", "m1", 0)
	require.NoError(t, err)
	assert.False(t, inserted)

	done, err = tracker.IsProcessed(ctx, "u1", "m1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestDedupTracker_RecordAll(t *testing.T) {
	tracker := intelligence.NewDedupTracker(newStore(t), nil)
	ctx := context.Background()

	_, err := tracker.Record(ctx, "u1", "m2", 7)
	require.NoError(t, err)

	n, err := tracker.RecordAll(ctx, "u1", []string{"m1", "m2", "m3"}, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"m1", "m2", "m3"} {
		done, err := tracker.IsProcessed(ctx, "u1", id)
		require.NoError(t, err)
		assert.True(t, done, id)
	}
}
