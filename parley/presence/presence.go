// Package presence tracks which users currently hold a live socket
// connection. Sessions live in Valkey with a heartbeat TTL so a crashed
// socket server cannot leave users online forever.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ParleyChat/go-api/parley/store"
)

const (
	// keyPrefix namespaces presence entries in the shared store.
	keyPrefix = "presence:user:"
	// DefaultTTL is how long a session survives without a heartbeat.
	DefaultTTL = 90 * time.Second
)

// Session describes one live connection.
type Session struct {
	SocketID    string `json:"socket_id"`
	ConnectedAt string `json:"connected_at"` // RFC-3339
}

// Tracker records and queries user presence.
type Tracker struct {
	kv  store.KVStore
	ttl int // seconds
}

// NewTracker wraps a KVStore. A non-positive ttl selects DefaultTTL.
func NewTracker(kv store.KVStore, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{kv: kv, ttl: int(ttl.Seconds())}
}

func userKey(userID uint) string {
	return keyPrefix + strconv.FormatUint(uint64(userID), 10)
}

// Connect marks a user online on the given socket. A reconnect simply
// overwrites the previous session.
func (t *Tracker) Connect(ctx context.Context, userID uint, socketID string) error {
	session := Session{
		SocketID:    socketID,
		ConnectedAt: time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal presence session: %w", err)
	}
	if err := t.kv.SetValueWithTTL(ctx, userKey(userID), string(data), t.ttl); err != nil {
		return fmt.Errorf("store presence for user %d: %w", userID, err)
	}
	return nil
}

// Heartbeat refreshes the session TTL for a connected user.
func (t *Tracker) Heartbeat(ctx context.Context, userID uint) error {
	if err := t.kv.SetExpire(ctx, userKey(userID), t.ttl); err != nil {
		return fmt.Errorf("refresh presence for user %d: %w", userID, err)
	}
	return nil
}

// Disconnect removes the user's session.
func (t *Tracker) Disconnect(ctx context.Context, userID uint) error {
	if err := t.kv.DeleteValue(ctx, userKey(userID)); err != nil {
		return fmt.Errorf("clear presence for user %d: %w", userID, err)
	}
	return nil
}

// Lookup returns the user's session and whether they are online. A missing
// key is simply "offline", not an error.
func (t *Tracker) Lookup(ctx context.Context, userID uint) (Session, bool, error) {
	value, err := t.kv.GetValue(ctx, userKey(userID))
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("presence lookup for user %d: %w", userID, err)
	}

	var session Session
	if err := json.Unmarshal([]byte(value), &session); err != nil {
		return Session{}, false, fmt.Errorf("decode presence session for user %d: %w", userID, err)
	}
	return session, true, nil
}

// OnlineUsers lists the IDs of every user with a live session.
func (t *Tracker) OnlineUsers(ctx context.Context) ([]uint, error) {
	keys, err := t.kv.ListKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("list presence keys: %w", err)
	}

	users := make([]uint, 0, len(keys))
	for _, key := range keys {
		id, err := strconv.ParseUint(strings.TrimPrefix(key, keyPrefix), 10, 64)
		if err != nil {
			continue // foreign key in the namespace, skip it
		}
		users = append(users, uint(id))
	}
	return users, nil
}
