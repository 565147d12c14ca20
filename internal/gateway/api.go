// ABOUTME: HTTP API handlers for accounts, conversations, messages and profile settings
// ABOUTME: Decodes and validates JSON requests, delegates to the conversation service and store

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/conversation"
	"github.com/2389/parley/internal/store"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

var validate = newValidator()

// newValidator reports field errors by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// RegisterRequest is the JSON request body for POST /api/register.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Name     string `json:"name" validate:"required,max=100"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest is the JSON request body for POST /api/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the JSON response for POST /api/login.
type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// CreateConversationRequest is the JSON request body for POST /api/conversations.
// Either UserID (direct) or IsGroup with Name and Members.
type CreateConversationRequest struct {
	UserID  string   `json:"user_id,omitempty" validate:"required_without=IsGroup"`
	IsGroup bool     `json:"is_group,omitempty"`
	Name    string   `json:"name,omitempty" validate:"required_if=IsGroup true,max=100"`
	Members []string `json:"members,omitempty" validate:"omitempty,dive,required"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Body  string `json:"body,omitempty" validate:"max=4000"`
	Image string `json:"image,omitempty" validate:"omitempty,url"`
}

// SettingsRequest is the JSON request body for POST /api/settings.
type SettingsRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Image     string `json:"image,omitempty"`
	CreatedAt string `json:"created_at"`
}

func toUserResponse(u *store.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Image:     u.Image,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleRegister handles POST /api/register.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		g.logger.Error("hashing password", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	user := &store.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(req.Email),
		Name:         req.Name,
		PasswordHash: hash,
		CreatedAt:    time.Now(),
	}
	if err := g.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			g.sendJSONError(w, http.StatusConflict, "email already registered")
			return
		}
		g.logger.Error("creating user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	g.logger.Info("user registered", "user_id", user.ID)
	g.writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// handleLogin handles POST /api/login.
// Unknown emails and wrong passwords get the same answer.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	user, err := g.store.GetUserByEmail(r.Context(), strings.ToLower(req.Email))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		g.logger.Error("looking up user", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		g.sendJSONError(w, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error())
		return
	}

	token, err := g.verifier.Generate(user.ID, g.config.Auth.TokenTTL)
	if err != nil {
		g.logger.Error("generating token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	g.writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: toUserResponse(user)})
}

// handleMe handles GET /api/me.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	user, err := g.store.GetUser(r.Context(), authCtx.UserID)
	if err != nil {
		g.sendStoreError(w, "loading user", err)
		return
	}
	g.writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleListUsers handles GET /api/users, every user except the caller.
func (g *Gateway) handleListUsers(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	users, err := g.store.ListUsers(r.Context(), authCtx.UserID)
	if err != nil {
		g.sendStoreError(w, "listing users", err)
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, u := range users {
		response = append(response, toUserResponse(u))
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleListConversations handles GET /api/conversations, the caller's snapshot.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	list, err := g.conversations.Snapshot(r.Context(), authCtx.UserID)
	if err != nil {
		g.sendServiceError(w, "loading snapshot", err)
		return
	}
	if list == nil {
		list = conversation.List{}
	}
	g.writeJSON(w, http.StatusOK, list)
}

// handleCreateConversation handles POST /api/conversations.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req CreateConversationRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	summary, err := g.conversations.Create(r.Context(), conversation.CreateRequest{
		CreatorID: authCtx.UserID,
		UserID:    req.UserID,
		IsGroup:   req.IsGroup,
		Name:      req.Name,
		MemberIDs: req.Members,
	})
	if err != nil {
		g.sendServiceError(w, "creating conversation", err)
		return
	}
	g.writeJSON(w, http.StatusOK, summary)
}

// handleDeleteConversation handles DELETE /api/conversations/{id}.
func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	id := r.PathValue("id")

	if err := g.conversations.Delete(r.Context(), id, authCtx.UserID); err != nil {
		g.sendServiceError(w, "deleting conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req SendMessageRequest
	if !g.decodeRequest(w, r, &req) {
		return
	}

	msg, err := g.conversations.SendMessage(r.Context(), conversation.SendRequest{
		ConversationID: r.PathValue("id"),
		SenderID:       authCtx.UserID,
		Body:           req.Body,
		Image:          req.Image,
	})
	if err != nil {
		g.sendServiceError(w, "sending message", err)
		return
	}
	g.writeJSON(w, http.StatusCreated, msg)
}

// handleSettings handles POST /api/settings. Errors are plain text.
func (g *Gateway) handleSettings(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil || authCtx.UserID == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req SettingsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		g.logger.Warn("profile settings", "user_id", authCtx.UserID, "error", err)
		http.Error(w, "Internal Error: Profile Settings", http.StatusInternalServerError)
		return
	}

	user, err := g.store.UpdateUserProfile(r.Context(), authCtx.UserID, req.Name, req.Image)
	if err != nil {
		g.logger.Error("profile settings", "user_id", authCtx.UserID, "error", err)
		http.Error(w, "Internal Error: Profile Settings", http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, toUserResponse(user))
}

// decodeRequest decodes a JSON body into dst and validates it. On failure it
// writes a 400 response and returns false.
func (g *Gateway) decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage turns a validator error into a short client-facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// sendServiceError maps conversation service errors to HTTP statuses.
func (g *Gateway) sendServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, conversation.ErrInvalidRequest), errors.Is(err, conversation.ErrEmptyMessage):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrNotMember):
		g.sendJSONError(w, http.StatusForbidden, err.Error())
	default:
		g.sendStoreError(w, op, err)
	}
}

// sendStoreError maps store errors to HTTP statuses, hiding internal details.
func (g *Gateway) sendStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	g.logger.Error(op, "error", err)
	g.sendJSONError(w, http.StatusInternalServerError, "internal error")
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("writing response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
