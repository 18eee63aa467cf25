// Package redissnapshot is a cross-process analog of the browser
// hand-off: instead of a server embedding a Snapshot in HTML for one
// browser to restore, a Relay publishes a Snapshot to Redis so a pool
// of sibling server processes can restore an identical view without
// each independently re-running its own initial load against the
// upstream config server.
package redissnapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/replane-dev/replane-go"
)

// Relay publishes and retrieves replane.Snapshot values through a
// single Redis key plus a pub/sub channel of the same name: Publish
// both SETs the key (so a late joiner can fetch the latest snapshot
// with Latest) and PUBLISHes to the channel (so an already-running
// subscriber is notified immediately via Subscribe).
type Relay struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// New returns a Relay backed by client, storing snapshots under key
// with the given TTL (zero means no expiry).
func New(client *redis.Client, key string, ttl time.Duration) *Relay {
	return &Relay{client: client, key: key, ttl: ttl}
}

// Publish freezes client's current view and relays it: SET under the
// configured key (for latecomers) and PUBLISH on the same key as a
// channel name (for anyone already subscribed).
func (r *Relay) Publish(ctx context.Context, client *replane.Client) error {
	snap := client.GetSnapshot()
	return r.PublishSnapshot(ctx, snap)
}

// PublishSnapshot relays an already-frozen Snapshot, for callers that
// want to control exactly when the freeze happens relative to other
// work (e.g. freezing before closing the source client).
func (r *Relay) PublishSnapshot(ctx context.Context, snap replane.Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("replane/redissnapshot: marshal snapshot: %w", err)
	}

	if err := r.client.Set(ctx, r.key, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("replane/redissnapshot: set %s: %w", r.key, err)
	}
	if err := r.client.Publish(ctx, r.key, b).Err(); err != nil {
		return fmt.Errorf("replane/redissnapshot: publish %s: %w", r.key, err)
	}
	return nil
}

// Latest fetches the most recently published Snapshot, for a process
// starting up after Publish already ran at least once.
func (r *Relay) Latest(ctx context.Context) (replane.Snapshot, error) {
	b, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		return replane.Snapshot{}, fmt.Errorf("replane/redissnapshot: get %s: %w", r.key, err)
	}
	var snap replane.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return replane.Snapshot{}, fmt.Errorf("replane/redissnapshot: decode %s: %w", r.key, err)
	}
	return snap, nil
}

// Subscribe restores a read-only Client from the latest published
// Snapshot (if any) and keeps it current by restoring a fresh Client
// from every subsequent publish, invoking onUpdate with each. It runs
// until ctx is canceled. Because replane.Client has no in-place
// "re-seed the Store from a Snapshot" operation, each update produces
// a new *replane.Client rather than mutating one in place; callers
// that only need current values should call Get on whichever Client
// onUpdate most recently received.
func (r *Relay) Subscribe(ctx context.Context, onUpdate func(*replane.Client)) error {
	if snap, err := r.Latest(ctx); err == nil {
		if c, err := replane.Restore(snap, nil, ""); err == nil {
			onUpdate(c)
		}
	}

	sub := r.client.Subscribe(ctx, r.key)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var snap replane.Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				continue
			}
			c, err := replane.Restore(snap, nil, "")
			if err != nil {
				continue
			}
			onUpdate(c)
		}
	}
}
