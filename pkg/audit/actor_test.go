package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachedActorResolver(t *testing.T) {
	calls := 0
	resolver := NewCachedActorResolver(ActorResolverFunc(func(_ context.Context, userID int64) (*Actor, error) {
		calls++
		if userID == 404 {
			return nil, errors.New("no such user")
		}
		return &Actor{ID: userID, Username: "alice"}, nil
	}), 100, time.Minute)

	actor, err := resolver.Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "alice", actor.Username)
	assert.Equal(t, 1, calls)

	// Second lookup is served from cache.
	_, err = resolver.Resolve(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	t.Run("errors are not cached", func(t *testing.T) {
		_, err := resolver.Resolve(context.Background(), 404)
		require.Error(t, err)
		_, err = resolver.Resolve(context.Background(), 404)
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})
}
