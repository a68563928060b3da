package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ireland-samantha/zia-gateway/internal/gateway"
	"github.com/ireland-samantha/zia-gateway/internal/logging"
	"github.com/ireland-samantha/zia-gateway/internal/storage"
)

// Platform is the platform name used in conversation keys and overrides.
const Platform = "web"

// Chats runs and inspects conversations.
type Chats interface {
	Handle(ctx context.Context, req gateway.Request) gateway.Reply
	History(ctx context.Context, key storage.Key, limit int) ([]storage.Message, error)
	Reset(ctx context.Context, key storage.Key) error
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CredentialsRequest is accepted as JSON or as a form.
type CredentialsRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

// TokenResponse is returned by login.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ChatRequest is a user message.
type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// ChatResponse carries the reply and the conversation after it.
type ChatResponse struct {
	Reply   string            `json:"reply"`
	History []storage.Message `json:"history"`
}

type handler struct {
	chats        Chats
	users        *UserStore
	tokens       *Tokens
	historyLimit int
	logger       *slog.Logger
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "username and password are required"})
		return
	}

	if err := ValidateCredentials(req.Username, req.Password); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	err := h.users.Register(req.Username, req.Password)
	switch {
	case errors.Is(err, ErrUserExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		h.log(c).Error("Failed to register user", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to register user"})
		return
	}

	h.log(c).Info("Registered user", "username", req.Username)
	c.JSON(http.StatusCreated, gin.H{"msg": "User registered successfully"})
}

func (h *handler) login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "username and password are required"})
		return
	}

	if err := h.users.Authenticate(req.Username, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: ErrInvalidCredentials.Error()})
		return
	}

	token, err := h.tokens.Issue(req.Username)
	if err != nil {
		h.log(c).Error("Failed to sign token", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.tokens.TTL().Seconds()),
	})
}

func (h *handler) chat(c *gin.Context) {
	key, ok := h.chatKey(c)
	if !ok {
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "message is required"})
		return
	}

	ctx := c.Request.Context()
	reply := h.chats.Handle(ctx, gateway.Request{
		Platform: Platform,
		Key:      key,
		Author:   key.User,
		Text:     req.Message,
	})

	history, err := h.chats.History(ctx, key, h.historyLimit)
	if err != nil {
		h.log(c).Warn("Failed to load history", "key", key.String(), "error", err)
		history = []storage.Message{}
	}

	c.JSON(http.StatusOK, ChatResponse{Reply: reply.Text, History: nonNil(history)})
}

func (h *handler) history(c *gin.Context) {
	key, ok := h.chatKey(c)
	if !ok {
		return
	}

	history, err := h.chats.History(c.Request.Context(), key, h.historyLimit)
	if err != nil {
		h.log(c).Error("Failed to load history", "key", key.String(), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": nonNil(history)})
}

func (h *handler) reset(c *gin.Context) {
	key, ok := h.chatKey(c)
	if !ok {
		return
	}

	if err := h.chats.Reset(c.Request.Context(), key); err != nil {
		h.log(c).Error("Failed to reset chat", "key", key.String(), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to reset chat"})
		return
	}
	c.Status(http.StatusNoContent)
}

// chatKey builds web/<user>/<chat_id> and writes a 400 if it is unusable.
func (h *handler) chatKey(c *gin.Context) (storage.Key, bool) {
	key := storage.Key{
		Platform: Platform,
		User:     c.GetString(ctxUsername),
		Channel:  c.Param("chat_id"),
	}
	if err := key.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid chat id"})
		return storage.Key{}, false
	}
	return key, true
}

func (h *handler) log(c *gin.Context) *slog.Logger {
	return logging.FromContext(c.Request.Context(), h.logger)
}

func nonNil(msgs []storage.Message) []storage.Message {
	if msgs == nil {
		return []storage.Message{}
	}
	return msgs
}
