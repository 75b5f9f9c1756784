package email

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/ignite/waitlist-service/internal/config"
	"github.com/ignite/waitlist-service/internal/pkg/httpretry"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

// SendGridSender sends through the SendGrid v3 Mail Send API with a Bearer
// token.
type SendGridSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
	checker httpretry.HTTPDoer
}

// NewSendGridSender creates a SendGrid sender.
func NewSendGridSender(cfg config.SendGridConfig) *SendGridSender {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.sendgrid.com/v3"
	}
	client := &http.Client{Timeout: timeout}
	return &SendGridSender{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		checker: httpretry.NewRetryClient(client, 2),
	}
}

func (s *SendGridSender) Name() string       { return "sendgrid" }
func (s *SendGridSender) IsConfigured() bool { return s.apiKey != "" }

// Send delivers a single email through SendGrid.
func (s *SendGridSender) Send(ctx context.Context, msg Template) Result {
	if !s.IsConfigured() {
		return notConfigured(s.Name())
	}

	fromName, fromEmail := splitAddress(msg.From)
	from := map[string]string{"email": fromEmail}
	if fromName != "" {
		from["name"] = fromName
	}
	personalization := map[string]interface{}{
		"to": []map[string]string{{"email": msg.To}},
	}
	if len(msg.Metadata) > 0 {
		personalization["custom_args"] = msg.Metadata
	}

	// SendGrid requires text/plain before text/html.
	var content []map[string]string
	if msg.Text != "" {
		content = append(content, map[string]string{"type": "text/plain", "value": msg.Text})
	}
	content = append(content, map[string]string{"type": "text/html", "value": msg.HTML})

	payload := map[string]interface{}{
		"personalizations": []map[string]interface{}{personalization},
		"from":             from,
		"subject":          msg.Subject,
		"content":          content,
	}
	if len(msg.Tags) > 0 {
		payload["categories"] = msg.Tags
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return failure(s.Name(), "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/mail/send", bytes.NewReader(jsonData))
	if err != nil {
		return failure(s.Name(), "create request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return failure(s.Name(), "send request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return failure(s.Name(), "SendGrid error %d: %s", resp.StatusCode, truncate(body, 512))
	}

	messageID := resp.Header.Get("X-Message-Id")
	logger.Info("[SendGrid] sent", "recipient", msg.To, "message_id", messageID)
	return Result{Success: true, MessageID: messageID, Provider: s.Name()}
}

// TestConnection lists the key's scopes, which any valid key may read.
func (s *SendGridSender) TestConnection(ctx context.Context) bool {
	if !s.IsConfigured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/scopes", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	return connectionOK(s.checker, req, s.Name())
}
