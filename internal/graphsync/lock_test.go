package graphsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerSingleFlight(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	release, ok, err := locker.TryAcquire(ctx, "doc")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "doc")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = locker.TryAcquire(ctx, "other")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx))

	_, ok, err = locker.TryAcquire(ctx, "doc")
	require.NoError(t, err)
	assert.True(t, ok)
}
