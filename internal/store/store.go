// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines User, Conversation, Message and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when registering an email that is already taken
var ErrDuplicateEmail = errors.New("email already registered")

// ErrUnknownMember is returned when a conversation references a user that does not exist
var ErrUnknownMember = errors.New("unknown conversation member")

// User is a registered account. Email doubles as the user's pub/sub routing key.
type User struct {
	ID           string
	Email        string
	Name         string
	Image        string
	PasswordHash string
	CreatedAt    time.Time
}

// Conversation is a direct or group conversation between users
type Conversation struct {
	ID            string
	Name          string // empty for direct conversations
	IsGroup       bool
	CreatedAt     time.Time
	LastMessageAt time.Time
}

// Message is a single chat message within a conversation
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	Image          string
	CreatedAt      time.Time
}

// ConversationView is a conversation with its members and most recent messages,
// the shape clients render in their conversation list.
type ConversationView struct {
	Conversation
	Members  []*User
	Messages []*Message // oldest first
}

// MemberIDs returns the IDs of the conversation's members.
func (v *ConversationView) MemberIDs() []string {
	ids := make([]string, len(v.Members))
	for i, m := range v.Members {
		ids[i] = m.ID
	}
	return ids
}

// HasMember reports whether userID belongs to the conversation.
func (v *ConversationView) HasMember(userID string) bool {
	for _, m := range v.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}

// Store defines the interface for user, conversation and message persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	ListUsers(ctx context.Context, excludeID string) ([]*User, error)
	UpdateUserProfile(ctx context.Context, id, name, image string) (*User, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation, memberIDs []string) error
	GetConversation(ctx context.Context, id string, messageLimit int) (*ConversationView, error)
	ListConversationsForUser(ctx context.Context, userID string, messageLimit int) ([]*ConversationView, error)
	FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Close releases any resources held by the store
	Close() error
}
