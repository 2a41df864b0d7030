package chat

import (
	"encoding/json"
	"time"

	"github.com/jasrulete/AI-Scheduler/internal/realtime"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleAI     Role = "ai"
	RoleSystem Role = "system"
)

type Status string

const (
	StatusSent       Status = "sent"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

type Metadata = realtime.ResponseMetadata

// Message is one transcript entry. Only Status changes after creation.
type Message struct {
	ID         string    `json:"id"`
	SenderType Role      `json:"sender_type"`
	Content    string    `json:"content"`
	Timestamp  string    `json:"timestamp"`
	Status     Status    `json:"status,omitempty"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

type FeedbackStatus string

const (
	FeedbackCompleted           FeedbackStatus = "completed"
	FeedbackFailed              FeedbackStatus = "failed"
	FeedbackPendingConfirmation FeedbackStatus = "pending_confirmation"
)

type ActionFeedback struct {
	ActionID string          `json:"action_id"`
	Status   FeedbackStatus  `json:"status"`
	Message  string          `json:"message"`
	Result   json.RawMessage `json:"result,omitempty"`
}

// Persisted is what survives a restart of the same browsing session.
type Persisted struct {
	Messages  []Message `json:"messages"`
	SessionID string    `json:"session_id,omitempty"`
}

type Snapshot struct {
	Messages  []Message        `json:"messages"`
	Feedback  []ActionFeedback `json:"feedback"`
	SessionID string           `json:"session_id,omitempty"`
	Typing    bool             `json:"typing"`
	Loading   bool             `json:"loading"`
}

// gorm models backing Repo.

type Session struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	BrowsingSession string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"browsing_session"`
	SessionID       string    `gorm:"type:varchar(128)" json:"session_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

type StoredMessage struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	BrowsingSession string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_chat_msg_browsing_seq,priority:1" json:"-"`
	Seq             int       `gorm:"not null;uniqueIndex:idx_chat_msg_browsing_seq,priority:2" json:"-"`
	MessageID       string    `gorm:"type:varchar(128);not null" json:"id"`
	SenderType      string    `gorm:"type:varchar(16);index;not null" json:"sender_type"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	Timestamp       string    `gorm:"type:varchar(64)" json:"timestamp"`
	Status          string    `gorm:"type:varchar(16)" json:"status"`
	Metadata        *string   `gorm:"type:text" json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

func (StoredMessage) TableName() string { return "chat_messages" }
