// Package chat persists users, conversations, messages, and blocking
// relationships, and orchestrates message sends through the scan pipeline.
package chat

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ParleyChat/go-api/parley/postgres/models"
)

// ErrBlocked is returned when either participant has blocked the other.
var ErrBlocked = errors.New("chat: user blocked")

// Repository provides explicit database operations for the chat domain.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps a database handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// BlockStatus describes the blocking relationship between two users from
// one user's point of view.
type BlockStatus struct {
	Blocked  bool `json:"blocked"`
	IBlocked bool `json:"iBlocked"`
}

// UserSummary is a user row plus the unread count toward the viewer.
type UserSummary struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	ProfilePic string `json:"profile_pic"`
	Unread     int64  `json:"unread"`
}

// IsBlocked reports whether messaging between the two users is blocked in
// either direction.
func (r *Repository) IsBlocked(userA, userB uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.BlockedUser{}).
		Where("(blocker_id = ? AND blocked_id = ?) OR (blocker_id = ? AND blocked_id = ?)",
			userA, userB, userB, userA).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query block state: %w", err)
	}
	return count > 0, nil
}

// GetBlockStatus returns the directional blocking view for me toward other.
func (r *Repository) GetBlockStatus(me, other uint) (BlockStatus, error) {
	var status BlockStatus

	var iBlocked int64
	err := r.db.Model(&models.BlockedUser{}).
		Where("blocker_id = ? AND blocked_id = ?", me, other).
		Count(&iBlocked).Error
	if err != nil {
		return status, fmt.Errorf("failed to query block state: %w", err)
	}

	var theyBlocked int64
	err = r.db.Model(&models.BlockedUser{}).
		Where("blocker_id = ? AND blocked_id = ?", other, me).
		Count(&theyBlocked).Error
	if err != nil {
		return status, fmt.Errorf("failed to query block state: %w", err)
	}

	status.IBlocked = iBlocked > 0
	status.Blocked = iBlocked > 0 || theyBlocked > 0
	return status, nil
}

// Block records blocker blocking blocked. Idempotent.
func (r *Repository) Block(blockerID, blockedID uint) error {
	var existing models.BlockedUser
	err := r.db.Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to query block state: %w", err)
	}

	entry := models.BlockedUser{BlockerID: blockerID, BlockedID: blockedID}
	if err := r.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to create block: %w", err)
	}
	return nil
}

// Unblock removes a block. Removing a non-existent block is not an error.
func (r *Repository) Unblock(blockerID, blockedID uint) error {
	err := r.db.Unscoped().
		Where("blocker_id = ? AND blocked_id = ?", blockerID, blockedID).
		Delete(&models.BlockedUser{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove block: %w", err)
	}
	return nil
}

// GetOrCreateConversation finds the conversation between two users
// regardless of participant order, creating it on first contact.
func (r *Repository) GetOrCreateConversation(userA, userB uint) (*models.Conversation, error) {
	var convo models.Conversation
	err := r.db.Where("(user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)",
		userA, userB, userB, userA).
		First(&convo).Error
	if err == nil {
		return &convo, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	convo = models.Conversation{User1ID: userA, User2ID: userB}
	if err := r.db.Create(&convo).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return &convo, nil
}

// CreateMessage persists a message row.
func (r *Repository) CreateMessage(msg *models.Message) error {
	if err := r.db.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// History returns the conversation between two users as seen by myID:
// messages the viewer deleted for themselves are excluded, and the
// counterpart's sent messages are marked delivered as a side effect of the
// read. A pair with no conversation yet yields an empty history.
func (r *Repository) History(myID, otherID uint) ([]models.Message, error) {
	var convo models.Conversation
	err := r.db.Where("(user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)",
		myID, otherID, otherID, myID).
		First(&convo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []models.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	// Mark delivered before loading so the returned rows already carry the
	// updated status.
	err = r.db.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id = ? AND receiver_id = ? AND status = ?",
			convo.ID, otherID, myID, models.MessageStatusSent).
		Update("status", models.MessageStatusDelivered).Error
	if err != nil {
		return nil, fmt.Errorf("failed to mark messages delivered: %w", err)
	}

	var rows []models.Message
	err = r.db.Where("conversation_id = ?", convo.ID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	// deleted_for is a JSON array; filter in Go rather than leaning on
	// driver-specific JSON operators.
	messages := make([]models.Message, 0, len(rows))
	for _, msg := range rows {
		if msg.DeletedFor.Contains(int64(myID)) {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// DeleteForMe hides a message from one user without touching the other
// side's copy.
func (r *Repository) DeleteForMe(messageID, userID uint) error {
	var msg models.Message
	err := r.db.First(&msg, messageID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("message %d not found", messageID)
	}
	if err != nil {
		return fmt.Errorf("failed to query message: %w", err)
	}

	if msg.DeletedFor.Contains(int64(userID)) {
		return nil
	}
	msg.DeletedFor = append(msg.DeletedFor, int64(userID))

	err = r.db.Model(&msg).Update("deleted_for", msg.DeletedFor).Error
	if err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return nil
}

// ClearChat hides every message in the conversation from one user.
func (r *Repository) ClearChat(userID, otherID uint) error {
	var convo models.Conversation
	err := r.db.Where("(user1_id = ? AND user2_id = ?) OR (user1_id = ? AND user2_id = ?)",
		userID, otherID, otherID, userID).
		First(&convo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to query conversation: %w", err)
	}

	var messages []models.Message
	if err := r.db.Where("conversation_id = ?", convo.ID).Find(&messages).Error; err != nil {
		return fmt.Errorf("failed to query messages: %w", err)
	}

	for i := range messages {
		msg := &messages[i]
		if msg.DeletedFor.Contains(int64(userID)) {
			continue
		}
		msg.DeletedFor = append(msg.DeletedFor, int64(userID))
		if err := r.db.Model(msg).Update("deleted_for", msg.DeletedFor).Error; err != nil {
			return fmt.Errorf("failed to update message %d: %w", msg.ID, err)
		}
	}
	return nil
}

// ListUsers returns every user except the viewer, newest first, with the
// count of their messages still undelivered to the viewer.
func (r *Repository) ListUsers(myID uint) ([]UserSummary, error) {
	var users []models.User
	err := r.db.Order("created_at DESC").Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	summaries := make([]UserSummary, 0, len(users))
	for _, user := range users {
		if user.ID == myID {
			continue
		}

		var unread int64
		err := r.db.Model(&models.Message{}).
			Where("sender_id = ? AND receiver_id = ? AND status = ?",
				user.ID, myID, models.MessageStatusSent).
			Count(&unread).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count unread for user %d: %w", user.ID, err)
		}

		summaries = append(summaries, UserSummary{
			ID:         user.ID,
			Name:       user.Name,
			ProfilePic: user.ProfilePic,
			Unread:     unread,
		})
	}
	return summaries, nil
}

// GetUser fetches one user.
func (r *Repository) GetUser(userID uint) (*models.User, error) {
	var user models.User
	err := r.db.First(&user, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %d not found", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// UpdateProfilePic stores the uploaded picture's filename on the user.
func (r *Repository) UpdateProfilePic(userID uint, filename string) error {
	return r.updateUserField(userID, "profile_pic", filename)
}

// UpdatePushPlayerID stores the device registration used for push
// notifications.
func (r *Repository) UpdatePushPlayerID(userID uint, playerID string) error {
	return r.updateUserField(userID, "push_player_id", playerID)
}

func (r *Repository) updateUserField(userID uint, column string, value string) error {
	result := r.db.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{column: value, "updated_at": time.Now()})
	if result.Error != nil {
		return fmt.Errorf("failed to update user %d: %w", userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user %d not found", userID)
	}
	return nil
}
