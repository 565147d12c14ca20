// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	emails        map[string]string        // email -> user ID
	conversations map[string]*Conversation // keyed by conversation ID
	members       map[string][]string      // conversation ID -> user IDs in join order
	messages      map[string][]*Message    // keyed by conversation ID

	// Err, when set, is returned by every method. Tests use it to exercise
	// storage failure paths.
	Err error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		emails:        make(map[string]string),
		conversations: make(map[string]*Conversation),
		members:       make(map[string][]string),
		messages:      make(map[string][]*Message),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, exists := m.emails[user.Email]; exists {
		return ErrDuplicateEmail
	}

	// Make a copy to avoid external modification
	u := *user
	m.users[u.ID] = &u
	m.emails[u.Email] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByEmail retrieves a user by email.
func (m *MockStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	id, ok := m.emails[email]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.users[id]
	return &result, nil
}

// ListUsers returns all users except excludeID, newest first.
func (m *MockStore) ListUsers(ctx context.Context, excludeID string) ([]*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var users []*User
	for _, u := range m.users {
		if u.ID == excludeID {
			continue
		}
		userCopy := *u
		users = append(users, &userCopy)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return users, nil
}

// UpdateUserProfile updates name and image of a user.
func (m *MockStore) UpdateUserProfile(ctx context.Context, id, name, image string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.Name = name
	u.Image = image
	result := *u
	return &result, nil
}

// CreateConversation stores a conversation and its members.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation, memberIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, exists := m.conversations[conv.ID]; exists {
		return fmt.Errorf("inserting conversation: duplicate id %s", conv.ID)
	}
	for _, id := range memberIDs {
		if _, ok := m.users[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMember, id)
		}
	}

	if conv.LastMessageAt.IsZero() {
		conv.LastMessageAt = conv.CreatedAt
	}
	c := *conv
	m.conversations[c.ID] = &c

	var members []string
	for _, id := range memberIDs {
		if !slices.Contains(members, id) {
			members = append(members, id)
		}
	}
	m.members[c.ID] = members
	return nil
}

// GetConversation retrieves a conversation with members and recent messages.
func (m *MockStore) GetConversation(ctx context.Context, id string, messageLimit int) (*ConversationView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.viewLocked(c, messageLimit), nil
}

// ListConversationsForUser returns the user's conversations, most recently active first.
func (m *MockStore) ListConversationsForUser(ctx context.Context, userID string, messageLimit int) ([]*ConversationView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	views := []*ConversationView{}
	for id, c := range m.conversations {
		if !slices.Contains(m.members[id], userID) {
			continue
		}
		views = append(views, m.viewLocked(c, messageLimit))
	}
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if !a.LastMessageAt.Equal(b.LastMessageAt) {
			return a.LastMessageAt.After(b.LastMessageAt)
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return views, nil
}

func (m *MockStore) viewLocked(c *Conversation, messageLimit int) *ConversationView {
	v := &ConversationView{Conversation: *c}
	for _, id := range m.members[c.ID] {
		if u, ok := m.users[id]; ok {
			userCopy := *u
			v.Members = append(v.Members, &userCopy)
		}
	}
	v.Messages = m.messagesLocked(c.ID, messageLimit)
	return v
}

// FindDirectConversation returns the non-group conversation between two users.
func (m *MockStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var found *Conversation
	for id, c := range m.conversations {
		if c.IsGroup {
			continue
		}
		members := m.members[id]
		if !slices.Contains(members, userA) || !slices.Contains(members, userB) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	result := *found
	return &result, nil
}

// DeleteConversation removes a conversation with its members and messages.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(m.conversations, id)
	delete(m.members, id)
	delete(m.messages, id)
	return nil
}

// SaveMessage stores a message and bumps the conversation's LastMessageAt.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	c, ok := m.conversations[msg.ConversationID]
	if !ok {
		return ErrNotFound
	}
	if msg.CreatedAt.After(c.LastMessageAt) {
		c.LastMessageAt = msg.CreatedAt
	}

	// Make a copy to avoid external modification
	msgCopy := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &msgCopy)
	return nil
}

// ListMessages retrieves messages for a conversation, limited by count.
// If limit <= 0, returns all messages.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.messagesLocked(conversationID, limit), nil
}

func (m *MockStore) messagesLocked(conversationID string, limit int) []*Message {
	msgs := m.messages[conversationID]

	// Apply limit
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	// Return copies
	var result []*Message
	for _, msg := range msgs {
		msgCopy := *msg
		result = append(result, &msgCopy)
	}
	return result
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// errMockStore is a convenient failure for tests that set MockStore.Err.
var errMockStore = errors.New("mock store failure")

// Fail makes every subsequent call return a storage error.
func (m *MockStore) Fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Err = errMockStore
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
