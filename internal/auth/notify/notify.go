// Package notify delivers one-time codes for two-factor login and password
// reset.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/gatekeeper/internal/auth/domain"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

const defaultTimeout = 15 * time.Second

// LogNotifier writes codes to the log. It is meant for development; the
// code is logged in clear.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	l := n.Logger
	if l == nil {
		l = slogx.FromContext(ctx)
	}
	l.Info("one_time_code",
		slog.String("purpose", string(msg.Purpose)),
		slog.String("account_id", msg.AccountID),
		slog.String("recipient", msg.Recipient),
		slog.String("code", msg.Code),
		slog.Time("expires_at", msg.ExpiresAt),
	)
	return nil
}

// WebhookNotifier POSTs each code as JSON to an external delivery service,
// which is responsible for turning it into an email or SMS.
type WebhookNotifier struct {
	URL        string
	Token      string
	HTTPClient *http.Client
}

// NewWebhookNotifier returns a notifier posting to url, authenticated with a
// bearer token when one is given.
func NewWebhookNotifier(url, token string) (*WebhookNotifier, error) {
	if url == "" {
		return nil, errors.New("notify: webhook URL is required")
	}
	return &WebhookNotifier{
		URL:        url,
		Token:      token,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

type webhookPayload struct {
	Purpose   string    `json:"purpose"`
	AccountID string    `json:"account_id"`
	Recipient string    `json:"recipient"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Notify sends the code. It does not log the code.
func (n *WebhookNotifier) Notify(ctx context.Context, msg domain.Notification) error {
	raw, err := json.Marshal(webhookPayload{
		Purpose:   string(msg.Purpose),
		AccountID: msg.AccountID,
		Recipient: msg.Recipient,
		Code:      msg.Code,
		ExpiresAt: msg.ExpiresAt.UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("Authorization", "Bearer "+n.Token)
	}

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("notify: webhook failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
