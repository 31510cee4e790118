package battle

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const ttlBattle = 7 * 24 * time.Hour

// Store is the durable battle record store. One JSON record per battle plus a
// lobby index, per-user indexes, the settlement-pending set and a per-battle
// pub/sub channel carrying every committed snapshot.
type Store struct{ rdb *redis.Client }

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keyBattle(id string) string  { return "battle:" + strings.TrimSpace(id) }
func (s *Store) keyEvents(id string) string  { return "battle:events:" + strings.TrimSpace(id) }
func (s *Store) keyUserIdx(id string) string { return "battle:index:user:" + strings.TrimSpace(id) }
func (s *Store) keyOpen() string             { return "battle:open" }
func (s *Store) keySettle() string           { return "battle:settle:pending" }

// errNoChange is returned by a mutation to signal an idempotent replay: the CAS
// succeeds without writing, bumping the version or publishing.
var errNoChange = errf("no change")

// Create persists a fresh record at version 1 and indexes it as open.
func (s *Store) Create(ctx context.Context, b *Battle) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyBattle(b.ID), raw, ttlBattle)
	pipe.SAdd(ctx, s.keyOpen(), b.ID)
	pipe.SAdd(ctx, s.keyUserIdx(b.Creator.ID), b.ID)
	pipe.Expire(ctx, s.keyUserIdx(b.Creator.ID), ttlBattle)
	pipe.Publish(ctx, s.keyEvents(b.ID), raw)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the current snapshot or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Battle, error) {
	raw, err := s.rdb.Get(ctx, s.keyBattle(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var b Battle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListOpen returns battles still waiting for an opponent.
func (s *Store) ListOpen(ctx context.Context) ([]*Battle, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyOpen()).Result()
	if err != nil {
		return nil, err
	}
	var out []*Battle
	for _, id := range ids {
		b, berr := s.Get(ctx, id)
		if berr != nil || b.Status != StatusCreated {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// ListByUser returns every live battle the player participates in, newest
// first.
func (s *Store) ListByUser(ctx context.Context, playerID string) ([]*Battle, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyUserIdx(playerID)).Result()
	if err != nil {
		return nil, err
	}
	var out []*Battle
	for _, id := range ids {
		b, berr := s.Get(ctx, id)
		if berr != nil {
			// record expired ahead of its index entry
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CompareAndSwap applies mutate to the record under optimistic concurrency.
// The caller presents the version it last observed; on mismatch (or a lost
// WATCH race) the call fails with ErrStaleState and nothing is written. The
// committed record gets Version = expectedVersion+1 and is published on the
// battle's event channel in the same tx pipeline.
func (s *Store) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, mutate func(*Battle) error) (*Battle, error) {
	key := s.keyBattle(id)
	var out *Battle
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var cur Battle
		if jerr := json.Unmarshal(raw, &cur); jerr != nil {
			return jerr
		}
		if cur.Version != expectedVersion {
			return ErrStaleState
		}
		if err := mutate(&cur); err != nil {
			if errors.Is(err, errNoChange) {
				out = &cur
				return nil
			}
			return err
		}
		cur.Version++
		cur.UpdatedAt = time.Now()

		pipe := tx.TxPipeline()
		newRaw, merr := json.Marshal(&cur)
		if merr != nil {
			return merr
		}
		pipe.Set(ctx, key, newRaw, ttlBattle)
		if cur.Status != StatusCreated {
			pipe.SRem(ctx, s.keyOpen(), cur.ID)
		}
		if cur.Opponent.ID != "" {
			pipe.SAdd(ctx, s.keyUserIdx(cur.Opponent.ID), cur.ID)
			pipe.Expire(ctx, s.keyUserIdx(cur.Opponent.ID), ttlBattle)
		}
		if cur.Resolution != nil && cur.Resolution.SettleVersion == cur.Version {
			// terminal money-moving transition: mark settlement pending in the
			// same commit so a crash before ledger confirmation is recoverable
			pipe.SAdd(ctx, s.keySettle(), cur.ID)
		}
		pipe.Publish(ctx, s.keyEvents(cur.ID), newRaw)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		out = &cur
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, ErrStaleState
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkSettled clears the settlement-pending mark once the ledger confirmed.
func (s *Store) MarkSettled(ctx context.Context, id string) error {
	return s.rdb.SRem(ctx, s.keySettle(), id).Err()
}

// SettlePending lists battles whose terminal transition committed but whose
// ledger settlement has not been confirmed yet.
func (s *Store) SettlePending(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.keySettle()).Result()
}

// Watch subscribes to the battle's committed snapshots. Snapshots arrive in
// commit order; a consumer that falls behind is coalesced to the latest one
// rather than queueing intermediates. The channel closes when ctx is
// cancelled, which also releases the subscription.
func (s *Store) Watch(ctx context.Context, id string) (<-chan *Battle, error) {
	sub := s.rdb.Subscribe(ctx, s.keyEvents(id))
	// force the subscription before the caller relies on it
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan *Battle)
	go func() {
		defer close(out)
		defer func() { _ = sub.Close() }()
		in := sub.Channel()
		var latest *Battle
		for {
			var send chan *Battle
			if latest != nil {
				send = out
			}
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var b Battle
				if err := json.Unmarshal([]byte(msg.Payload), &b); err != nil {
					continue
				}
				if latest == nil || b.Version > latest.Version {
					latest = &b
				}
			case send <- latest:
				latest = nil
			}
		}
	}()
	return out, nil
}

// ParseRedisURL extracts client options from a redis:// or rediss:// URL.
func ParseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, errf("unsupported redis scheme: " + u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
