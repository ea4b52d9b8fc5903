package audit

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Actor is the resolved identity behind a user id.
type Actor struct {
	ID       int64
	Username string
}

// ActorResolver maps a user id to its display identity. Implementations
// typically call the identity service owning the users table.
type ActorResolver interface {
	Resolve(ctx context.Context, userID int64) (*Actor, error)
}

// ActorResolverFunc adapts a function to ActorResolver.
type ActorResolverFunc func(ctx context.Context, userID int64) (*Actor, error)

func (f ActorResolverFunc) Resolve(ctx context.Context, userID int64) (*Actor, error) {
	return f(ctx, userID)
}

// CachedActorResolver memoizes resolutions in an expiring LRU so a burst
// of mutations by one user costs one identity lookup. Usernames change
// rarely; the TTL bounds how stale a captured username can be.
type CachedActorResolver struct {
	next  ActorResolver
	cache *lru.LRU[int64, *Actor]
}

// NewCachedActorResolver wraps next with a cache of maxEntries actors
// expiring after ttl.
func NewCachedActorResolver(next ActorResolver, maxEntries int, ttl time.Duration) *CachedActorResolver {
	if maxEntries < 10 {
		maxEntries = 10
	}
	return &CachedActorResolver{
		next:  next,
		cache: lru.NewLRU[int64, *Actor](maxEntries, nil, ttl),
	}
}

func (r *CachedActorResolver) Resolve(ctx context.Context, userID int64) (*Actor, error) {
	if actor, ok := r.cache.Get(userID); ok {
		return actor, nil
	}
	actor, err := r.next.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	r.cache.Add(userID, actor)
	return actor, nil
}
