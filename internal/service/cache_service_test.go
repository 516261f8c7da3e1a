package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRememberServesFromCacheUntilBump(t *testing.T) {
	repo := &stubCacheRepo{}
	metrics := NewMetricsService()
	cache := NewCacheService(repo, metrics, 0, "test", nil, true)
	ctx := context.Background()

	loads := 0
	load := func(dest *int) func() error {
		return func() error {
			loads++
			*dest = loads * 10
			return nil
		}
	}

	var first, second, third int
	require.NoError(t, cache.Remember(ctx, ComputeCapacity, "s1", 0, &first, load(&first)))
	require.NoError(t, cache.Remember(ctx, ComputeCapacity, "s1", 0, &second, load(&second)))
	assert.Equal(t, 1, loads)
	assert.Equal(t, 10, second)

	cache.Bump(ctx, ClassAssignments)
	require.NoError(t, cache.Remember(ctx, ComputeCapacity, "s1", 0, &third, load(&third)))
	assert.Equal(t, 2, loads)
	assert.Equal(t, 20, third)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(2), snap.CacheMisses)
}

func TestBumpOnlyInvalidatesDependents(t *testing.T) {
	cache := NewCacheService(&stubCacheRepo{}, nil, 0, "test", nil, true)
	ctx := context.Background()

	before, ok := cache.Key(ctx, ComputeSettings, "prog")
	require.True(t, ok)
	cache.Bump(ctx, ClassRegistrations)
	after, _ := cache.Key(ctx, ComputeSettings, "prog")
	assert.Equal(t, before, after)

	cache.Bump(ctx, ClassSettings)
	bumped, _ := cache.Key(ctx, ComputeSettings, "prog")
	assert.NotEqual(t, before, bumped)
}

func TestRememberFallsThroughWhenRevisionsUnreadable(t *testing.T) {
	repo := &stubCacheRepo{revErr: errors.New("redis down")}
	cache := NewCacheService(repo, nil, 0, "test", nil, true)

	loads := 0
	var v int
	for i := 0; i < 2; i++ {
		require.NoError(t, cache.Remember(context.Background(), ComputeViableRooms, "s1", 0, &v, func() error {
			loads++
			return nil
		}))
	}
	assert.Equal(t, 2, loads)
	assert.Empty(t, repo.store)
}

func TestDisabledCacheAlwaysLoads(t *testing.T) {
	var nilCache *CacheService
	loads := 0
	var v int
	load := func() error { loads++; return nil }

	require.NoError(t, nilCache.Remember(context.Background(), ComputeCatalog, "p", 0, &v, load))
	nilCache.Bump(context.Background(), ClassSubjects)

	disabled := NewCacheService(&stubCacheRepo{}, nil, 0, "", nil, false)
	require.NoError(t, disabled.Remember(context.Background(), ComputeCatalog, "p", 0, &v, load))
	assert.Equal(t, 2, loads)
	assert.False(t, disabled.Enabled())
}

func TestRememberPropagatesLoadError(t *testing.T) {
	repo := &stubCacheRepo{}
	cache := NewCacheService(repo, nil, 0, "test", nil, true)
	var v int
	err := cache.Remember(context.Background(), ComputeCapacity, "s1", 0, &v, func() error { return errors.New("boom") })
	require.Error(t, err)
	assert.Empty(t, repo.store)
}
