package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strings"

	"github.com/ignite/waitlist-service/internal/config"
	"github.com/ignite/waitlist-service/internal/pkg/httpretry"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

// MailgunSender posts multipart/form-data to the Mailgun Messages API using
// basic auth with user "api".
type MailgunSender struct {
	apiKey  string
	domain  string
	baseURL string
	client  httpretry.HTTPDoer
	checker httpretry.HTTPDoer
}

// NewMailgunSender creates a Mailgun sender for the configured domain.
func NewMailgunSender(cfg config.MailgunConfig) *MailgunSender {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.mailgun.net/v3"
	}
	client := &http.Client{Timeout: timeout}
	return &MailgunSender{
		apiKey:  cfg.APIKey,
		domain:  cfg.Domain,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		checker: httpretry.NewRetryClient(client, 2),
	}
}

func (s *MailgunSender) Name() string       { return "mailgun" }
func (s *MailgunSender) IsConfigured() bool { return s.apiKey != "" && s.domain != "" }

// Send delivers a single email through Mailgun.
func (s *MailgunSender) Send(ctx context.Context, msg Template) Result {
	if !s.IsConfigured() {
		return notConfigured(s.Name())
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"from", msg.From},
		{"to", msg.To},
		{"subject", msg.Subject},
		{"html", msg.HTML},
	}
	if msg.Text != "" {
		fields = append(fields, [2]string{"text", msg.Text})
	}
	for _, tag := range msg.Tags {
		fields = append(fields, [2]string{"o:tag", tag})
	}
	keys := make([]string, 0, len(msg.Metadata))
	for k := range msg.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, [2]string{"v:" + k, msg.Metadata[k]})
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return failure(s.Name(), "encode form: %v", err)
		}
	}
	if err := form.Close(); err != nil {
		return failure(s.Name(), "encode form: %v", err)
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, s.domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return failure(s.Name(), "create request: %v", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.SetBasicAuth("api", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return failure(s.Name(), "send request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return failure(s.Name(), "Mailgun error %d: %s", resp.StatusCode, truncate(body, 512))
	}

	var result struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &result)
	messageID := strings.Trim(result.ID, "<>")

	logger.Info("[Mailgun] sent", "recipient", msg.To, "message_id", messageID)
	return Result{Success: true, MessageID: messageID, Provider: s.Name()}
}

// TestConnection fetches the sending domain.
func (s *MailgunSender) TestConnection(ctx context.Context) bool {
	if !s.IsConfigured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/domains/%s", s.baseURL, s.domain), nil)
	if err != nil {
		return false
	}
	req.SetBasicAuth("api", s.apiKey)
	return connectionOK(s.checker, req, s.Name())
}
