// ABOUTME: Typed wrappers for each parley-gateway endpoint
// ABOUTME: Accounts, conversation snapshot and writes, messages and profile settings

package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/parley/internal/conversation"
)

// User is an account as returned by the gateway.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, email, name, password string) (*User, error) {
	var user User
	body := map[string]string{"email": email, "name": name, "password": password}
	if err := c.doRequest(ctx, http.MethodPost, "/api/register", body, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.doRequest(ctx, http.MethodPost, "/api/login", body, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.Token)
	return &resp.User, nil
}

// Me returns the logged-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.doRequest(ctx, http.MethodGet, "/api/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Users lists every other account.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.doRequest(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Conversations loads the caller's conversation snapshot, most recent first.
func (c *Client) Conversations(ctx context.Context) (conversation.List, error) {
	var list conversation.List
	if err := c.doRequest(ctx, http.MethodGet, "/api/conversations", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// CreateConversationRequest describes a direct (UserID) or group conversation.
type CreateConversationRequest struct {
	UserID  string   `json:"user_id,omitempty"`
	IsGroup bool     `json:"is_group,omitempty"`
	Name    string   `json:"name,omitempty"`
	Members []string `json:"members,omitempty"`
}

// CreateConversation starts a conversation or returns the existing direct one.
func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*conversation.Summary, error) {
	var summary conversation.Summary
	if err := c.doRequest(ctx, http.MethodPost, "/api/conversations", req, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// DeleteConversation removes a conversation for every member.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/api/conversations/"+url.PathEscape(id), nil, nil)
}

// SendMessage posts a message with a body, an image URL or both.
func (c *Client) SendMessage(ctx context.Context, conversationID, body, image string) (*conversation.Message, error) {
	var msg conversation.Message
	req := map[string]string{"body": body, "image": image}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.doRequest(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateProfile changes the caller's display name and image.
func (c *Client) UpdateProfile(ctx context.Context, name, image string) (*User, error) {
	var user User
	req := map[string]string{"name": name, "image": image}
	if err := c.doRequest(ctx, http.MethodPost, "/api/settings", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Health checks that the gateway is up.
func (c *Client) Health(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/health", nil, nil)
}
