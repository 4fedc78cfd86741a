// Package statecache keeps the last check of each operator session in Redis.
//
// The cache is a derived view: classification results are replaced wholesale
// on every check, and the scheduled/delivered sets are rebuilt from the job
// store on every refresh. Losing it costs a re-check, never a notification.
package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"

	"offerwall/reconciler-service/internal/model"
	"offerwall/reconciler-service/internal/notify"
)

const (
	keyPrefix   = "reconciler:snapshot:"
	sessionsKey = "reconciler:sessions"
)

// Snapshot is everything the operator sees for one session.
type Snapshot struct {
	CheckID      string                     `json:"checkId"`
	Source       string                     `json:"source"`
	Result       model.ClassificationResult `json:"result"`
	Scheduled    []int                      `json:"scheduled"`
	Delivered    []int                      `json:"delivered"`
	CheckedAt    time.Time                  `json:"checkedAt"`
	ReconciledAt *time.Time                 `json:"reconciledAt,omitempty"`
	Stale        bool                       `json:"stale,omitempty"` // set on read when the job store was unreachable
}

// Sets returns the scheduled/delivered offsets as notify.IndexSets.
func (s Snapshot) Sets() notify.IndexSets {
	return notify.IndexSets{Scheduled: s.Scheduled, Delivered: s.Delivered}
}

// WithSets returns a copy of s carrying sets, stamped as reconciled at t.
func (s Snapshot) WithSets(sets notify.IndexSets, t time.Time) Snapshot {
	s.Scheduled = sets.Scheduled
	s.Delivered = sets.Delivered
	s.ReconciledAt = &t
	s.Stale = false
	return s
}

// Cache stores snapshots as JSON strings with a TTL.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns a Cache. A ttl of zero keeps snapshots until cleared.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func snapshotKey(session string) string { return keyPrefix + session }

// Save overwrites the snapshot for session and registers the session for
// periodic refresh.
func (c *Cache) Save(ctx context.Context, session string, snap Snapshot) error {
	snap.Stale = false
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, snapshotKey(session), raw, c.ttl)
		p.SAdd(ctx, sessionsKey, session)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", session, err)
	}
	return nil
}

// errSuperseded aborts a conditional save inside the WATCH callback.
var errSuperseded = errors.New("snapshot superseded")

// SaveIfCurrent overwrites the snapshot for session only while the stored
// snapshot still carries snap.CheckID. saved is false, with no error, when
// the session was cleared, replaced by a newer check, or written concurrently.
func (c *Cache) SaveIfCurrent(ctx context.Context, session string, snap Snapshot) (saved bool, err error) {
	snap.Stale = false
	raw, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("encode snapshot: %w", err)
	}

	key := snapshotKey(session)
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return errSuperseded
		}
		if err != nil {
			return err
		}
		if gjson.GetBytes(cur, "checkId").String() != snap.CheckID {
			return errSuperseded
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, raw, c.ttl)
			p.SAdd(ctx, sessionsKey, session)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errSuperseded), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("save snapshot %s: %w", session, err)
	}
}

// Load returns the snapshot for session. ok is false when none exists or it
// has expired.
func (c *Cache) Load(ctx context.Context, session string) (Snapshot, bool, error) {
	var snap Snapshot
	raw, err := c.rdb.Get(ctx, snapshotKey(session)).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired entries linger in the session set until seen here.
		c.rdb.SRem(ctx, sessionsKey, session)
		return snap, false, nil
	}
	if err != nil {
		return snap, false, fmt.Errorf("load snapshot %s: %w", session, err)
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return snap, false, fmt.Errorf("decode snapshot %s: %w", session, err)
	}
	return snap, true, nil
}

// Clear drops the snapshot for session. Clearing an unknown session is not
// an error.
func (c *Cache) Clear(ctx context.Context, session string) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, snapshotKey(session))
		p.SRem(ctx, sessionsKey, session)
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear snapshot %s: %w", session, err)
	}
	return nil
}

// Sessions lists every session with a saved snapshot.
func (c *Cache) Sessions(ctx context.Context) ([]string, error) {
	sessions, err := c.rdb.SMembers(ctx, sessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
