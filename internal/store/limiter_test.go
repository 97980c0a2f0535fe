package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteLimiterSerializesAcquires(t *testing.T) {
	l := NewWriteLimiter()
	require.NoError(t, l.Acquire(context.Background()))

	acquired := make(chan struct{})
	go func() {
		_ = l.Acquire(context.Background())
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while slot was held")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestWriteLimiterAcquireHonorsContext(t *testing.T) {
	l := NewWriteLimiter()
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteLimiterReleaseWithoutAcquirePanics(t *testing.T) {
	l := NewWriteLimiter()
	assert.Panics(t, func() { l.Release() })
}

func TestWriteLimiterContextRoundTrip(t *testing.T) {
	assert.Nil(t, WriteLimiterFromContext(context.Background()))

	l := NewWriteLimiter()
	ctx := WithWriteLimiter(context.Background(), l)
	assert.Same(t, l, WriteLimiterFromContext(ctx))
}

func TestMergeWhere(t *testing.T) {
	merged, ok := MergeWhere(nil, Where{"id": 1})
	assert.True(t, ok)
	assert.Equal(t, Where{"id": 1}, merged)

	merged, ok = MergeWhere(Where{"owner": "ada"}, Where{"id": 1})
	assert.True(t, ok)
	assert.Equal(t, Where{"id": 1, "owner": "ada"}, merged)

	merged, ok = MergeWhere(Where{"id": 1, "owner": "ada"}, Where{"id": 1})
	assert.True(t, ok)
	assert.Equal(t, Where{"id": 1, "owner": "ada"}, merged)
}

func TestMergeWhereConflictNeverMatches(t *testing.T) {
	// Neither side may override the other on a shared key.
	merged, ok := MergeWhere(Where{"id": 1}, Where{"id": 2})
	assert.False(t, ok)
	assert.Nil(t, merged)

	merged, ok = MergeWhere(Where{"id": int64(1)}, Where{"id": int64(2)})
	assert.False(t, ok)
	assert.Nil(t, merged)
}

func TestIsExplicitNull(t *testing.T) {
	assert.True(t, IsExplicitNull(ExplicitNull))
	assert.False(t, IsExplicitNull(nil))
	assert.False(t, IsExplicitNull("null"))
}
