// Package parley holds the event shapes shared between the API backend and
// the socket/notification services that consume its queues.
package parley

import (
	"github.com/ParleyChat/go-api/parley/scan"
)

// EventNewMessage is the event type published when a message is stored and
// ready for realtime delivery.
const EventNewMessage = "new-message-arrived"

// MessageEvent is the realtime delivery payload for one stored message.
// Scan verdicts ride along so the receiving client can warn before the user
// opens anything.
type MessageEvent struct {
	Event        string        `json:"event"`
	MessageID    uint          `json:"messageId"`
	SenderID     uint          `json:"sender_id"`
	ReceiverID   uint          `json:"receiver_id"`
	MessageType  string        `json:"message_type"`
	Body         string        `json:"message,omitempty"`
	ContainsURL  bool          `json:"contains_url,omitempty"`
	URLScan      *scan.Verdict `json:"url_scan,omitempty"`
	ContainsFile bool          `json:"contains_file,omitempty"`
	FileScan     *scan.Verdict `json:"file_scan,omitempty"`
}
