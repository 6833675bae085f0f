// Package notify fans a stored message out to its receiver: over the
// realtime queue when the receiver has a live socket, or as a mobile push
// notification when they are offline. Fan-out is strictly best-effort: a
// delivery failure is logged and swallowed, never propagated into the
// message-send path.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ParleyChat/go-api/parley"
	"github.com/ParleyChat/go-api/parley/presence"
	"github.com/ParleyChat/go-api/parley/queue"
)

// previewLimit caps how much message body a push notification reveals.
const previewLimit = 100

// PresenceLookup answers whether a user currently holds a live socket.
// Implemented by presence.Tracker.
type PresenceLookup interface {
	Lookup(ctx context.Context, userID uint) (presence.Session, bool, error)
}

// QueueSender publishes one payload to a named queue. Defaults to
// queue.Send; tests substitute their own.
type QueueSender func(qName string, message string) error

// Notifier routes delivery events for stored messages.
type Notifier struct {
	presence PresenceLookup
	push     *PushClient
	send     QueueSender
}

// NewNotifier wires presence, push, and the realtime queue together. A nil
// send falls back to queue.Send.
func NewNotifier(pl PresenceLookup, push *PushClient, send QueueSender) *Notifier {
	if send == nil {
		send = queue.Send
	}
	return &Notifier{presence: pl, push: push, send: send}
}

// userQueue names the per-user realtime delivery queue consumed by socket
// servers.
func userQueue(userID uint) string {
	return "user." + strconv.FormatUint(uint64(userID), 10) + ".messages"
}

// MessageSent routes one stored message to its receiver. Online receivers
// get the full event on their queue; offline receivers with a registered
// device get a push preview. pushPlayerID may be empty.
func (n *Notifier) MessageSent(ctx context.Context, ev parley.MessageEvent, pushPlayerID string) {
	ev.Event = parley.EventNewMessage

	_, online, err := n.presence.Lookup(ctx, ev.ReceiverID)
	if err != nil {
		slog.Warn("Presence lookup failed, treating receiver as offline", "receiver_id", ev.ReceiverID, "error", err)
		online = false
	}

	if online {
		body, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Failed to encode message event", "message_id", ev.MessageID, "error", err)
			return
		}
		if err := n.send(userQueue(ev.ReceiverID), string(body)); err != nil {
			slog.Warn("Realtime delivery failed", "receiver_id", ev.ReceiverID, "message_id", ev.MessageID, "error", err)
		}
		return
	}

	if n.push == nil || !n.push.Enabled() || pushPlayerID == "" {
		return
	}

	heading := fmt.Sprintf("New message from %d", ev.SenderID)
	data := map[string]string{
		"senderId": strconv.FormatUint(uint64(ev.SenderID), 10),
		"type":     ev.MessageType,
	}
	if err := n.push.Notify(pushPlayerID, heading, pushPreview(ev), data); err != nil {
		slog.Warn("Push notification failed", "receiver_id", ev.ReceiverID, "message_id", ev.MessageID, "error", err)
	}
}

// pushPreview renders the notification body: a truncated text preview, or a
// generic line for media messages.
func pushPreview(ev parley.MessageEvent) string {
	switch ev.MessageType {
	case "image":
		return "sent a photo"
	case "file":
		return "sent a file"
	}

	runes := []rune(ev.Body)
	if len(runes) > previewLimit {
		return string(runes[:previewLimit-3]) + "..."
	}
	return ev.Body
}
