package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jmylchreest/autoindex-api/internal/auth"
	"github.com/jmylchreest/autoindex-api/internal/config"
	"github.com/jmylchreest/autoindex-api/internal/metrics"
)

// AlertEvent names a notification sent to the alert webhook.
type AlertEvent string

const (
	AlertDailyReport    AlertEvent = "daily_report"
	AlertLowCredit      AlertEvent = "low_credit"
	AlertDeadPages      AlertEvent = "dead_pages"
	AlertTokenExpired   AlertEvent = "token_expired"
	AlertCouldNotCharge AlertEvent = "could_not_charge"
	AlertJobFailed      AlertEvent = "job_failed"

	// AlertPurchaseUnresolved tells operators a paid checkout could not be
	// credited automatically.
	AlertPurchaseUnresolved AlertEvent = "purchase_unresolved"
)

const maxAlertAttempts = 3

// Alert is the JSON body posted to the alert webhook.
type Alert struct {
	Event    AlertEvent `json:"event"`
	UserID   string     `json:"user_id"`
	Email    string     `json:"email,omitempty"`
	Subject  string     `json:"subject"`
	Template string     `json:"template"`
	Payload  any        `json:"payload,omitempty"`
	SentAt   time.Time  `json:"sent_at"`
}

// UserDirectory resolves a user's contact details.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*auth.ClerkUser, error)
}

// AlertService delivers owner and operator notifications through a single
// webhook; the receiver owns rendering and email delivery.
type AlertService struct {
	url       string
	templates config.AlertTemplates
	users     UserDirectory
	adminUser string
	client    *http.Client
	metrics   *metrics.Metrics
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// AlertConfig configures an AlertService.
type AlertConfig struct {
	WebhookURL string
	Templates  config.AlertTemplates
	AdminUser  string
	Users      UserDirectory
	Metrics    *metrics.Metrics
}

// NewAlertService creates a new alert service. An empty webhook URL makes
// every send a logged no-op.
func NewAlertService(cfg AlertConfig, logger *slog.Logger) *AlertService {
	templates := cfg.Templates
	if templates == nil {
		templates = config.DefaultAlertTemplates()
	}
	return &AlertService{
		url:       cfg.WebhookURL,
		templates: templates,
		users:     cfg.Users,
		adminUser: cfg.AdminUser,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		metrics: cfg.Metrics,
		logger:  logger.With("component", "alerts"),
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Enabled reports whether alerts are delivered anywhere.
func (s *AlertService) Enabled() bool {
	return s != nil && s.url != ""
}

// Notify sends an alert about a site to its owner.
func (s *AlertService) Notify(ctx context.Context, userID string, event AlertEvent, siteName string, payload any) error {
	if !s.Enabled() {
		if s != nil {
			s.logger.Debug("alert skipped, no webhook configured", "event", event, "user_id", userID)
		}
		return nil
	}

	tpl := s.templates[string(event)]
	alert := Alert{
		Event:    event,
		UserID:   userID,
		Subject:  strings.ReplaceAll(tpl.Subject, "{{site}}", siteName),
		Template: tpl.TemplateID,
		Payload:  payload,
		SentAt:   s.now().UTC(),
	}
	if s.users != nil && userID != "" {
		if user, err := s.users.GetUser(ctx, userID); err != nil {
			s.logger.Warn("failed to look up alert recipient", "user_id", userID, "error", err)
		} else if user != nil {
			alert.Email = user.PrimaryEmail()
		}
	}

	err := s.deliver(ctx, alert)
	s.metrics.Alert(string(event), err == nil)
	return err
}

// NotifyAdmin sends an operator alert.
func (s *AlertService) NotifyAdmin(ctx context.Context, event AlertEvent, payload any) error {
	if s == nil {
		return nil
	}
	return s.Notify(ctx, s.adminUser, event, "", payload)
}

func (s *AlertService) deliver(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAlertAttempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, time.Duration(attempt*attempt)*time.Second); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "AutoIndex-Alerts/1.0")

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			s.logger.Warn("alert delivery failed", "event", alert.Event, "attempt", attempt+1, "error", err)
			continue
		}
		_ = resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			s.logger.Info("alert delivered", "event", alert.Event, "user_id", alert.UserID)
			return nil
		}

		lastErr = &AlertDeliveryError{StatusCode: resp.StatusCode}
		s.logger.Warn("alert webhook non-success status", "event", alert.Event, "status", resp.StatusCode, "attempt", attempt+1)
	}

	s.logger.Error("alert delivery failed after retries", "event", alert.Event, "user_id", alert.UserID, "error", lastErr)
	return lastErr
}

// AlertDeliveryError reports a non-2xx answer from the alert webhook.
type AlertDeliveryError struct {
	StatusCode int
}

func (e *AlertDeliveryError) Error() string {
	return "alert delivery failed with status: " + http.StatusText(e.StatusCode)
}
