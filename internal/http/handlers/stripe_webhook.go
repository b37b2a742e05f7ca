package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/jmylchreest/autoindex-api/internal/models"
	"github.com/jmylchreest/autoindex-api/internal/service"
)

// CreditPurchaser records paid credit packs.
type CreditPurchaser interface {
	Purchase(ctx context.Context, userID, packID string, credits int64, orderID string) (*models.CreditTransaction, error)
}

// AdminNotifier raises operator alerts.
type AdminNotifier interface {
	NotifyAdmin(ctx context.Context, event service.AlertEvent, payload any) error
}

// StripeWebhookHandler handles Stripe webhook events.
type StripeWebhookHandler struct {
	secret string
	ledger CreditPurchaser
	admin  AdminNotifier
	logger *slog.Logger
}

// NewStripeWebhookHandler creates a new Stripe webhook handler. admin may be
// nil.
func NewStripeWebhookHandler(secret string, ledger CreditPurchaser, admin AdminNotifier, logger *slog.Logger) *StripeWebhookHandler {
	return &StripeWebhookHandler{
		secret: secret,
		ledger: ledger,
		admin:  admin,
		logger: logger.With("component", "stripe_webhook"),
	}
}

// HandleWebhook processes incoming Stripe webhooks.
// This is a raw HTTP handler since huma doesn't handle raw body verification well.
func (h *StripeWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const maxBodySize = 65536 // 64KB

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.logger.Error("failed to verify webhook signature", "error", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	// Business failures are logged and acknowledged so Stripe stops retrying.
	if err := h.handleEvent(r.Context(), event); err != nil {
		h.logger.Error("failed to handle webhook event", "type", event.Type, "id", event.ID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) handleEvent(ctx context.Context, event stripe.Event) error {
	h.logger.Info("received Stripe webhook", "type", event.Type, "id", event.ID)

	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutComplete(ctx, event)
	default:
		h.logger.Debug("unhandled webhook event type", "type", event.Type)
		return nil
	}
}

// handleCheckoutComplete credits the pack bought in a checkout session. The
// session ID is the order id, so redelivery never double-credits.
func (h *StripeWebhookHandler) handleCheckoutComplete(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	if session.PaymentStatus != "" && session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		h.logger.Info("checkout session not paid", "session_id", session.ID, "payment_status", session.PaymentStatus)
		return nil
	}

	userID := session.Metadata["clerk_user_id"]
	if userID == "" {
		h.logger.Warn("checkout session missing clerk_user_id", "session_id", session.ID)
		h.unresolved(ctx, &session, "missing clerk_user_id metadata")
		return nil
	}

	packID := session.Metadata["pack"]
	var credits int64
	if raw := session.Metadata["credits"]; raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.logger.Warn("invalid credits metadata", "session_id", session.ID, "credits", raw)
		}
		credits = n
	}

	tx, err := h.ledger.Purchase(ctx, userID, packID, credits, session.ID)
	if err != nil {
		if errors.Is(err, service.ErrDuplicateEvent) {
			h.logger.Info("duplicate checkout ignored", "session_id", session.ID)
			return nil
		}
		if errors.Is(err, service.ErrUnknownPack) || errors.Is(err, service.ErrInvalidAmount) {
			h.unresolved(ctx, &session, err.Error())
		}
		return fmt.Errorf("failed to record purchase: %w", err)
	}

	h.logger.Info("credited purchase",
		"user_id", userID,
		"session_id", session.ID,
		"amount", tx.Amount,
		"balance", tx.BalanceAfter,
	)
	return nil
}

// unresolved flags a paid session that was not credited so an operator can
// grant the credits by hand.
func (h *StripeWebhookHandler) unresolved(ctx context.Context, session *stripe.CheckoutSession, reason string) {
	if h.admin == nil {
		return
	}
	payload := map[string]any{
		"session_id":   session.ID,
		"reason":       reason,
		"amount_total": session.AmountTotal,
		"currency":     session.Currency,
		"metadata":     session.Metadata,
	}
	if err := h.admin.NotifyAdmin(ctx, service.AlertPurchaseUnresolved, payload); err != nil {
		h.logger.Error("failed to raise unresolved purchase alert", "session_id", session.ID, "error", err)
	}
}
