// File: chat.go
package models

import (
	"gorm.io/gorm"
)

// User is a chat account.
type User struct {
	gorm.Model
	Name         string `gorm:"size:255;not null" json:"name"`
	ProfilePic   string `gorm:"size:255" json:"profile_pic,omitempty"`
	PushPlayerID string `gorm:"size:255" json:"-"`
}

// Conversation links two users. A pair has at most one conversation
// regardless of which side initiated it.
type Conversation struct {
	gorm.Model
	User1ID uint `gorm:"index:idx_conversation_pair" json:"user1_id"`
	User2ID uint `gorm:"index:idx_conversation_pair" json:"user2_id"`
}

// Message statuses.
const (
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
)

// Message types.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
)

// Message is a single chat message. Scan verdicts are stored alongside the
// message as JSON snapshots so clients can render the safety report without
// another lookup.
type Message struct {
	gorm.Model
	ConversationID uint       `gorm:"index;not null" json:"conversation_id"`
	SenderID       uint       `gorm:"index" json:"sender_id"`
	ReceiverID     uint       `gorm:"index" json:"receiver_id"`
	Body           string     `gorm:"type:text" json:"message,omitempty"`
	MessageType    string     `gorm:"size:20;not null" json:"message_type"`
	Status         string     `gorm:"size:20;not null;default:sent" json:"status"`
	DeletedFor     Int64Slice `gorm:"type:jsonb" json:"deleted_for"`
	ContainsURL    bool       `json:"contains_url"`
	URLScan        JSONB      `gorm:"type:jsonb" json:"url_scan,omitempty"`
	FileURL        string     `gorm:"size:512" json:"file_url,omitempty"`
	FileHash       string     `gorm:"size:128;index" json:"file_hash,omitempty"`
	ContainsFile   bool       `json:"contains_file"`
	FileScan       JSONB      `gorm:"type:jsonb" json:"file_scan,omitempty"`
	DeepfakeScan   JSONB      `gorm:"type:jsonb" json:"deepfake_scan,omitempty"`
}

// BlockedUser records that blocker has blocked blocked. Blocking in either
// direction prevents message exchange between the pair.
type BlockedUser struct {
	gorm.Model
	BlockerID uint `gorm:"uniqueIndex:idx_block_pair" json:"blocker_id"`
	BlockedID uint `gorm:"uniqueIndex:idx_block_pair" json:"blocked_id"`
}
