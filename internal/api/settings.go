package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/lifeboat-sh/lifeboat/internal/db"
	"github.com/lifeboat-sh/lifeboat/internal/notification"
	"github.com/lifeboat-sh/lifeboat/internal/repositories"
)

// SettingsHandler groups notification settings HTTP handlers. SMTP and
// webhook delivery are configured at runtime through these endpoints and
// stored encrypted in the settings table; changes take effect on the next
// notification send without a restart.
type SettingsHandler struct {
	repo   repositories.SettingsRepository
	logger *zap.Logger
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(repo repositories.SettingsRepository, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		repo:   repo,
		logger: logger.Named("settings_handler"),
	}
}

// secretMask replaces stored secrets in GET responses. Secrets are
// write-only through this API.
const secretMask = "********"

// -----------------------------------------------------------------------------
// Response types
// -----------------------------------------------------------------------------

// notificationSettingsResponse is the JSON representation of the
// notification configuration. Password and webhook secret report only
// whether a value is set.
type notificationSettingsResponse struct {
	SMTP    smtpSettings    `json:"smtp"`
	Webhook webhookSettings `json:"webhook"`
	Emails  string          `json:"emails"`
}

type smtpSettings struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	From     string `json:"from"`
	TLS      bool   `json:"tls"`
}

type webhookSettings struct {
	URL     string `json:"url"`
	Secret  string `json:"secret,omitempty"`
	Enabled bool   `json:"enabled"`
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Get handles GET /api/v1/settings/notifications.
// Unconfigured sections come back as zero values rather than 404 so the
// UI can always render the form.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := notificationSettingsResponse{}

	smtpRows, err := h.repo.GetMany(r.Context(), "smtp.")
	if err != nil {
		h.logger.Error("failed to load smtp settings", zap.Error(err))
		ErrInternal(w)
		return
	}
	for _, s := range smtpRows {
		v := string(s.Value)
		switch s.Key {
		case notification.KeySMTPHost:
			resp.SMTP.Host = v
		case notification.KeySMTPPort:
			resp.SMTP.Port, _ = strconv.Atoi(v)
		case notification.KeySMTPUsername:
			resp.SMTP.Username = v
		case notification.KeySMTPPassword:
			if v != "" {
				resp.SMTP.Password = secretMask
			}
		case notification.KeySMTPFrom:
			resp.SMTP.From = v
		case notification.KeySMTPTLS:
			resp.SMTP.TLS = v == "true"
		}
	}

	webhookRows, err := h.repo.GetMany(r.Context(), "webhook.")
	if err != nil {
		h.logger.Error("failed to load webhook settings", zap.Error(err))
		ErrInternal(w)
		return
	}
	for _, s := range webhookRows {
		v := string(s.Value)
		switch s.Key {
		case notification.KeyWebhookURL:
			resp.Webhook.URL = v
		case notification.KeyWebhookSecret:
			if v != "" {
				resp.Webhook.Secret = secretMask
			}
		case notification.KeyWebhookEnabled:
			resp.Webhook.Enabled = v == "true"
		}
	}

	emails, err := h.repo.Get(r.Context(), notification.KeyNotifyEmails)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		h.logger.Error("failed to load notify emails", zap.Error(err))
		ErrInternal(w)
		return
	}
	if emails != nil {
		resp.Emails = string(emails.Value)
	}

	Ok(w, resp)
}

// updateSettingsRequest is the JSON body expected by
// PUT /api/v1/settings/notifications. PUT semantics: every provided
// section is replaced whole. Sending the mask sentinel for a secret keeps
// the stored value, so clients can round-trip the GET response.
type updateSettingsRequest struct {
	SMTP    *smtpSettings    `json:"smtp"`
	Webhook *webhookSettings `json:"webhook"`
	Emails  *string          `json:"emails"`
}

// Update handles PUT /api/v1/settings/notifications.
// Sections absent from the body are left unchanged, so SMTP and webhook
// config can be managed independently.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ctx := r.Context()

	if req.SMTP != nil {
		if req.SMTP.Host == "" {
			ErrBadRequest(w, "smtp.host is required")
			return
		}
		if req.SMTP.Port <= 0 || req.SMTP.Port > 65535 {
			ErrBadRequest(w, "smtp.port must be between 1 and 65535")
			return
		}
		pairs := map[string]string{
			notification.KeySMTPHost:     req.SMTP.Host,
			notification.KeySMTPPort:     strconv.Itoa(req.SMTP.Port),
			notification.KeySMTPUsername: req.SMTP.Username,
			notification.KeySMTPFrom:     req.SMTP.From,
			notification.KeySMTPTLS:      strconv.FormatBool(req.SMTP.TLS),
		}
		if req.SMTP.Password != secretMask {
			pairs[notification.KeySMTPPassword] = req.SMTP.Password
		}
		if err := h.setAll(ctx, pairs); err != nil {
			h.logger.Error("failed to save smtp settings", zap.Error(err))
			ErrInternal(w)
			return
		}
	}

	if req.Webhook != nil {
		if req.Webhook.Enabled && req.Webhook.URL == "" {
			ErrBadRequest(w, "webhook.url is required when the webhook is enabled")
			return
		}
		pairs := map[string]string{
			notification.KeyWebhookURL:     req.Webhook.URL,
			notification.KeyWebhookEnabled: strconv.FormatBool(req.Webhook.Enabled),
		}
		if req.Webhook.Secret != secretMask {
			pairs[notification.KeyWebhookSecret] = req.Webhook.Secret
		}
		if err := h.setAll(ctx, pairs); err != nil {
			h.logger.Error("failed to save webhook settings", zap.Error(err))
			ErrInternal(w)
			return
		}
	}

	if req.Emails != nil {
		if err := h.repo.Set(ctx, notification.KeyNotifyEmails, db.EncryptedString(*req.Emails)); err != nil {
			h.logger.Error("failed to save notify emails", zap.Error(err))
			ErrInternal(w)
			return
		}
	}

	h.Get(w, r)
}

func (h *SettingsHandler) setAll(ctx context.Context, pairs map[string]string) error {
	for key, value := range pairs {
		if err := h.repo.Set(ctx, key, db.EncryptedString(value)); err != nil {
			return err
		}
	}
	return nil
}
