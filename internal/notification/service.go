package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/lifeboat-sh/lifeboat/internal/config"
	"github.com/lifeboat-sh/lifeboat/internal/repositories"
	"github.com/lifeboat-sh/lifeboat/internal/websocket"
)

// Service is the single entry point for delivering notifications. It
// publishes events to the WebSocket Hub and fans out to external channels
// (email, webhook).
//
// Callers (orchestrator, recovery engine) should use the typed methods
// rather than constructing messages manually, so notification content
// stays consistent across the codebase.
type Service interface {
	// NotifyJobCompleted announces a successful backup job.
	NotifyJobCompleted(ctx context.Context, jobID uuid.UUID, configName string, sizeBytes int64) error

	// NotifyJobFailed announces a failed backup job. errMsg is the error
	// string from the orchestrator, included in the body.
	NotifyJobFailed(ctx context.Context, jobID uuid.UUID, configName, errMsg string) error

	// NotifyRestoreCompleted announces a finished restore, successful or not.
	NotifyRestoreCompleted(ctx context.Context, restorePointID, outcome string) error

	// NotifyContact delivers a recovery plan summary to a single contact.
	// Used by the recovery engine, which orders contacts by priority rank.
	NotifyContact(ctx context.Context, contact config.Contact, subject, body string) error
}

// notificationService is the concrete implementation of Service.
type notificationService struct {
	settingsRepo repositories.SettingsRepository
	hub          *websocket.Hub
	email        *emailSender
	webhook      *webhookSender
	logger       *zap.Logger
}

// Config holds the dependencies required to build a notification Service.
type Config struct {
	SettingsRepo repositories.SettingsRepository
	Hub          *websocket.Hub
	Logger       *zap.Logger
}

// NewService creates a new notification Service. The email and webhook
// senders are wired internally; callers only need to provide the Config
// dependencies.
func NewService(cfg Config) Service {
	svc := &notificationService{
		settingsRepo: cfg.SettingsRepo,
		hub:          cfg.Hub,
		logger:       cfg.Logger.Named("notification"),
	}

	// Wire senders with config loaders bound to this service's settings repo.
	// Config is reloaded on every send; no restart needed after settings change.
	svc.email = newEmailSender(func(ctx context.Context) (*SMTPConfig, error) {
		return loadSMTPConfig(ctx, cfg.SettingsRepo)
	})
	svc.webhook = newWebhookSender(func(ctx context.Context) (*WebhookConfig, error) {
		return loadWebhookConfig(ctx, cfg.SettingsRepo)
	})

	return svc
}

// -----------------------------------------------------------------------------
// Public typed methods
// -----------------------------------------------------------------------------

func (s *notificationService) NotifyJobCompleted(ctx context.Context, jobID uuid.UUID, configName string, sizeBytes int64) error {
	payload := map[string]any{
		"job_id":     jobID.String(),
		"config":     configName,
		"size_bytes": sizeBytes,
	}
	return s.notify(ctx, event{
		notifType: "job_completed",
		title:     fmt.Sprintf("Backup completed: %s", configName),
		body:      fmt.Sprintf("Backup \"%s\" completed successfully at %s (%d bytes).", configName, time.Now().UTC().Format(time.RFC3339), sizeBytes),
		payload:   payload,
	})
}

func (s *notificationService) NotifyJobFailed(ctx context.Context, jobID uuid.UUID, configName, errMsg string) error {
	payload := map[string]any{
		"job_id": jobID.String(),
		"config": configName,
		"error":  errMsg,
	}
	return s.notify(ctx, event{
		notifType: "job_failed",
		title:     fmt.Sprintf("Backup failed: %s", configName),
		body:      fmt.Sprintf("Backup \"%s\" failed at %s: %s", configName, time.Now().UTC().Format(time.RFC3339), errMsg),
		payload:   payload,
	})
}

func (s *notificationService) NotifyRestoreCompleted(ctx context.Context, restorePointID, outcome string) error {
	payload := map[string]any{
		"restore_point_id": restorePointID,
		"outcome":          outcome,
	}
	return s.notify(ctx, event{
		notifType: "restore_" + outcome,
		title:     fmt.Sprintf("Restore %s", outcome),
		body:      fmt.Sprintf("Restore from point %s finished with outcome %q at %s.", restorePointID, outcome, time.Now().UTC().Format(time.RFC3339)),
		payload:   payload,
	})
}

// NotifyContact sends directly to one contact's email address, falling
// back to the webhook channel when the contact has no email. Phone numbers
// are recorded in the body for the on-call reader; there is no SMS channel.
func (s *notificationService) NotifyContact(ctx context.Context, contact config.Contact, subject, body string) error {
	full := body
	if contact.Phone != "" {
		full = fmt.Sprintf("%s\n\nContact %s (%s) by phone if unreachable: %s", body, contact.Name, contact.Role, contact.Phone)
	}

	if contact.Email != "" {
		if err := s.email.Send(ctx, []string{contact.Email}, subject, full); err != nil {
			return fmt.Errorf("notification: emailing contact %s: %w", contact.Name, err)
		}
		return nil
	}

	if err := s.webhook.Send(ctx, "recovery_contact", subject, full, map[string]any{
		"contact": contact.Name,
		"role":    contact.Role,
	}); err != nil {
		return fmt.Errorf("notification: webhook for contact %s: %w", contact.Name, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Internal event dispatch
// -----------------------------------------------------------------------------

// event carries the data for a single notification before it is fanned out
// to the delivery channels.
type event struct {
	notifType string
	title     string
	body      string
	payload   map[string]any
}

// notify publishes the event to the WebSocket Hub first, then fans out to
// email and webhook. External channel errors are logged, not returned, so
// an SMTP outage never hides the in-app event.
func (s *notificationService) notify(ctx context.Context, ev event) error {
	if s.hub != nil {
		s.hub.Publish(websocket.TopicNotifications, websocket.Message{
			Type:  websocket.MsgNotification,
			Topic: websocket.TopicNotifications,
			Payload: map[string]any{
				"type":       ev.notifType,
				"title":      ev.title,
				"body":       ev.body,
				"payload":    ev.payload,
				"created_at": time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	recipients, err := s.defaultRecipients(ctx)
	if err != nil {
		s.logger.Warn("loading notification recipients", zap.Error(err))
	}
	if err := s.email.Send(ctx, recipients, ev.title, ev.body); err != nil {
		s.logger.Warn("email notification delivery failed",
			zap.String("type", ev.notifType),
			zap.Error(err),
		)
	}

	if err := s.webhook.Send(ctx, ev.notifType, ev.title, ev.body, ev.payload); err != nil {
		s.logger.Warn("webhook notification delivery failed",
			zap.String("type", ev.notifType),
			zap.Error(err),
		)
	}

	return nil
}

// defaultRecipients reads the comma-separated "notify.emails" setting.
// Empty means email delivery of system events is not configured.
func (s *notificationService) defaultRecipients(ctx context.Context) ([]string, error) {
	setting, err := s.settingsRepo.Get(ctx, KeyNotifyEmails)
	if err != nil {
		if err == repositories.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	var out []string
	for _, addr := range strings.Split(string(setting.Value), ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out, nil
}
