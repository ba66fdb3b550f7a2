package sessionclient

import (
	"context"
	"fmt"
	"time"

	"pattern-analysis-service/internal/models"

	"github.com/rs/zerolog/log"
)

// SnapshotCache is a best-effort key/value store. A miss reports false with
// a nil error.
type SnapshotCache interface {
	GetStructCached(ctx context.Context, key string, model any) (bool, error)
	SaveStructCached(ctx context.Context, key string, model any, ttl time.Duration) error
}

// CachedFetcher serves completed sessions from the cache and falls back to
// the session service on a miss or any cache failure.
type CachedFetcher struct {
	next  Fetcher
	cache SnapshotCache
	ttl   time.Duration
}

func NewCachedFetcher(next Fetcher, cache SnapshotCache, ttl time.Duration) *CachedFetcher {
	return &CachedFetcher{
		next:  next,
		cache: cache,
		ttl:   ttl,
	}
}

func snapshotKey(sessionID, userID string) string {
	return fmt.Sprintf("session-snapshot:%s:%s", sessionID, userID)
}

func (f *CachedFetcher) Fetch(ctx context.Context, sessionID, userID string) (*SessionResponse, error) {
	key := snapshotKey(sessionID, userID)

	var cached SessionResponse
	hit, err := f.cache.GetStructCached(ctx, key, &cached)
	switch {
	case err != nil:
		log.Warn().Err(err).Str("session_id", sessionID).Msg("Snapshot cache read failed, fetching from session service")
	case hit:
		log.Debug().Str("session_id", sessionID).Msg("Snapshot cache hit")
		return &cached, nil
	}

	resp, err := f.next.Fetch(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}

	// sessions that can still change are never cached
	if models.SessionStatus(resp.Session.Status) == models.SessionStatusCompleted {
		if err := f.cache.SaveStructCached(ctx, key, resp, f.ttl); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to cache session snapshot")
		}
	}

	return resp, nil
}
