// ABOUTME: Service is the server-side writer for conversations and messages
// ABOUTME: Persists first, then publishes conversation events to every member's routing key

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/2389/parley/internal/pubsub"
	"github.com/2389/parley/internal/store"
)

// DefaultMessageLimit is how many recent messages a Summary carries.
const DefaultMessageLimit = 20

// Service errors
var (
	ErrNotMember      = errors.New("not a member of this conversation")
	ErrInvalidRequest = errors.New("invalid conversation request")
	ErrEmptyMessage   = errors.New("message has neither body nor image")
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	CreateConversation(ctx context.Context, conv *store.Conversation, memberIDs []string) error
	GetConversation(ctx context.Context, id string, messageLimit int) (*store.ConversationView, error)
	ListConversationsForUser(ctx context.Context, userID string, messageLimit int) ([]*store.ConversationView, error)
	FindDirectConversation(ctx context.Context, userA, userB string) (*store.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	SaveMessage(ctx context.Context, msg *store.Message) error
}

// Service is the conversation layer behind the HTTP API. The store is the
// source of truth; events are published only after a write succeeds, and a
// failed publish never fails the request.
type Service struct {
	store        ConversationStore
	publisher    pubsub.Publisher
	logger       *slog.Logger
	messageLimit int
	now          func() time.Time
}

// NewService creates a new conversation Service
func NewService(store ConversationStore, publisher pubsub.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		publisher:    publisher,
		logger:       logger.With("component", "conversation"),
		messageLimit: DefaultMessageLimit,
		now:          time.Now,
	}
}

// SetMessageLimit changes how many recent messages each summary carries.
// Values below one are ignored.
func (s *Service) SetMessageLimit(n int) {
	if n > 0 {
		s.messageLimit = n
	}
}

// CreateRequest starts a direct conversation (UserID) or a group (IsGroup,
// Name, MemberIDs). The creator is always a member.
type CreateRequest struct {
	CreatorID string
	UserID    string
	IsGroup   bool
	Name      string
	MemberIDs []string
}

// Create starts a conversation and announces it to every member. A direct
// conversation that already exists between the two users is returned as is,
// without a new announcement.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Summary, error) {
	var members []string
	if req.IsGroup {
		others := lo.Without(lo.Uniq(req.MemberIDs), req.CreatorID, "")
		if req.Name == "" || len(others) < 2 {
			return Summary{}, fmt.Errorf("%w: a group needs a name and at least two other members", ErrInvalidRequest)
		}
		members = append([]string{req.CreatorID}, others...)
	} else {
		if req.UserID == "" || req.UserID == req.CreatorID {
			return Summary{}, fmt.Errorf("%w: a direct conversation needs another user", ErrInvalidRequest)
		}
		existing, err := s.store.FindDirectConversation(ctx, req.CreatorID, req.UserID)
		if err == nil {
			s.logger.Debug("reusing direct conversation", "conversation_id", existing.ID)
			view, err := s.store.GetConversation(ctx, existing.ID, s.messageLimit)
			if err != nil {
				return Summary{}, fmt.Errorf("loading conversation: %w", err)
			}
			return ToSummary(view), nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Summary{}, fmt.Errorf("finding direct conversation: %w", err)
		}
		members = []string{req.CreatorID, req.UserID}
	}

	now := s.now()
	conv := &store.Conversation{
		ID:            uuid.New().String(),
		IsGroup:       req.IsGroup,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	if req.IsGroup {
		conv.Name = req.Name
	}
	if err := s.store.CreateConversation(ctx, conv, members); err != nil {
		if errors.Is(err, store.ErrUnknownMember) {
			return Summary{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return Summary{}, fmt.Errorf("creating conversation: %w", err)
	}

	view, err := s.store.GetConversation(ctx, conv.ID, s.messageLimit)
	if err != nil {
		return Summary{}, fmt.Errorf("loading conversation: %w", err)
	}
	summary := ToSummary(view)

	s.logger.Info("conversation created", "conversation_id", conv.ID, "is_group", conv.IsGroup, "members", len(members))
	s.broadcast(ctx, view, pubsub.EventConversationNew, summary)
	return summary, nil
}

// SendRequest is a new message from a conversation member.
type SendRequest struct {
	ConversationID string
	SenderID       string
	Body           string
	Image          string
}

// SendMessage stores a message and pushes the conversation's refreshed
// messages to every member.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (Message, error) {
	if req.Body == "" && req.Image == "" {
		return Message{}, ErrEmptyMessage
	}

	view, err := s.memberView(ctx, req.ConversationID, req.SenderID)
	if err != nil {
		return Message{}, err
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		Body:           req.Body,
		Image:          req.Image,
		CreatedAt:      s.now(),
	}
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("saving message: %w", err)
	}

	updated, err := s.store.GetConversation(ctx, req.ConversationID, s.messageLimit)
	if err != nil {
		// The message is stored; only the push is lost.
		s.logger.Warn("reloading conversation after message", "conversation_id", req.ConversationID, "error", err)
		return toMessage(msg, view.Members), nil
	}

	s.logger.Debug("message saved", "conversation_id", req.ConversationID, "message_id", msg.ID)
	s.broadcast(ctx, updated, pubsub.EventConversationUpdate, ToSummary(updated))
	return toMessage(msg, updated.Members), nil
}

// Delete removes a conversation on behalf of one of its members and tells
// every member it is gone.
func (s *Service) Delete(ctx context.Context, conversationID, userID string) error {
	view, err := s.memberView(ctx, conversationID, userID)
	if err != nil {
		return err
	}

	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	s.logger.Info("conversation deleted", "conversation_id", conversationID, "by", userID)
	s.broadcast(ctx, view, pubsub.EventConversationRemove, ToSummary(view))
	return nil
}

// Snapshot returns the user's conversation list, most recently active first.
func (s *Service) Snapshot(ctx context.Context, userID string) (List, error) {
	views, err := s.store.ListConversationsForUser(ctx, userID, s.messageLimit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	list := make(List, 0, len(views))
	for _, v := range views {
		list = append(list, ToSummary(v))
	}
	return list, nil
}

// memberView loads a conversation and checks that userID belongs to it.
func (s *Service) memberView(ctx context.Context, conversationID, userID string) (*store.ConversationView, error) {
	view, err := s.store.GetConversation(ctx, conversationID, s.messageLimit)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	if !view.HasMember(userID) {
		return nil, ErrNotMember
	}
	return view, nil
}

// broadcast publishes event to the routing key of every member.
func (s *Service) broadcast(ctx context.Context, view *store.ConversationView, event string, summary Summary) {
	if s.publisher == nil {
		return
	}
	for _, m := range view.Members {
		if err := s.publisher.Publish(ctx, m.Email, event, summary); err != nil {
			s.logger.Warn("publishing conversation event",
				"event", event,
				"conversation_id", view.ID,
				"member", m.Email,
				"error", err)
		}
	}
}

// ToSummary converts a stored conversation into its client representation.
func ToSummary(v *store.ConversationView) Summary {
	members := lo.Map(v.Members, func(u *store.User, _ int) Member {
		return Member{ID: u.ID, Email: u.Email, Name: u.Name, Image: u.Image}
	})
	messages := lo.Map(v.Messages, func(m *store.Message, _ int) Message {
		return toMessage(m, v.Members)
	})
	return Summary{
		ID:            v.ID,
		Name:          v.Name,
		IsGroup:       v.IsGroup,
		Members:       members,
		Messages:      messages,
		CreatedAt:     v.CreatedAt,
		LastMessageAt: v.LastMessageAt,
	}
}

func toMessage(m *store.Message, members []*store.User) Message {
	msg := Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		Image:          m.Image,
		CreatedAt:      m.CreatedAt,
	}
	if sender, ok := lo.Find(members, func(u *store.User) bool { return u.ID == m.SenderID }); ok {
		msg.SenderName = sender.Name
	}
	return msg
}
