package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	svix "github.com/svix/svix-webhooks/go"

	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/service"
)

// SignupBonus grants the welcome credits.
type SignupBonus interface {
	GrantSignupBonus(ctx context.Context, userID string, amount int64) (*models.CreditTransaction, error)
}

// UserDataRemover erases everything stored for a user.
type UserDataRemover interface {
	DeleteAllUserData(ctx context.Context, userID string) error
}

// ClerkWebhookHandler handles Clerk webhook events.
type ClerkWebhookHandler struct {
	secret      string
	bonus       SignupBonus
	bonusAmount int64
	cleanup     UserDataRemover
	logger      *slog.Logger
}

// NewClerkWebhookHandler creates a new Clerk webhook handler.
func NewClerkWebhookHandler(secret string, bonus SignupBonus, bonusAmount int64, cleanup UserDataRemover, logger *slog.Logger) *ClerkWebhookHandler {
	return &ClerkWebhookHandler{
		secret:      secret,
		bonus:       bonus,
		bonusAmount: bonusAmount,
		cleanup:     cleanup,
		logger:      logger.With("component", "clerk_webhook"),
	}
}

// ClerkWebhookEvent represents a Clerk webhook event.
type ClerkWebhookEvent struct {
	Type   string          `json:"type"`
	Object string          `json:"object"`
	Data   json.RawMessage `json:"data"`
}

type clerkUserData struct {
	ID string `json:"id"`
}

// HandleWebhook verifies the Svix signature and dispatches the event.
func (h *ClerkWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	headers := http.Header{}
	headers.Set("svix-id", r.Header.Get("svix-id"))
	headers.Set("svix-timestamp", r.Header.Get("svix-timestamp"))
	headers.Set("svix-signature", r.Header.Get("svix-signature"))

	wh, err := svix.NewWebhook(h.secret)
	if err != nil {
		h.logger.Error("failed to create webhook verifier", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := wh.Verify(payload, headers); err != nil {
		h.logger.Error("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	var event ClerkWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("failed to parse webhook event", "error", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if err := h.handleEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to handle webhook event", "type", event.Type, "error", err)
		// User deletion must be retried until it succeeds.
		if event.Type == "user.deleted" {
			http.Error(w, "failed to process event", http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *ClerkWebhookHandler) handleEvent(ctx context.Context, event ClerkWebhookEvent) error {
	h.logger.Info("received Clerk webhook", "type", event.Type)

	var user clerkUserData
	switch event.Type {
	case "user.created", "user.deleted":
		if err := json.Unmarshal(event.Data, &user); err != nil {
			return err
		}
		if user.ID == "" {
			h.logger.Warn("user event missing user id", "type", event.Type)
			return nil
		}
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}

	if event.Type == "user.created" {
		return h.handleUserCreated(ctx, user.ID)
	}
	return h.handleUserDeleted(ctx, user.ID)
}

func (h *ClerkWebhookHandler) handleUserCreated(ctx context.Context, userID string) error {
	if h.bonus == nil || h.bonusAmount <= 0 {
		return nil
	}
	if _, err := h.bonus.GrantSignupBonus(ctx, userID, h.bonusAmount); err != nil {
		if errors.Is(err, service.ErrDuplicateEvent) {
			h.logger.Info("signup bonus already granted", "user_id", userID)
			return nil
		}
		return err
	}
	h.logger.Info("granted signup bonus", "user_id", userID, "amount", h.bonusAmount)
	return nil
}

func (h *ClerkWebhookHandler) handleUserDeleted(ctx context.Context, userID string) error {
	if h.cleanup == nil {
		h.logger.Warn("user cleanup service not configured, skipping data deletion", "user_id", userID)
		return nil
	}
	h.logger.Info("processing user deletion", "user_id", userID)
	if err := h.cleanup.DeleteAllUserData(ctx, userID); err != nil {
		return err
	}
	h.logger.Info("user data deleted successfully", "user_id", userID)
	return nil
}
