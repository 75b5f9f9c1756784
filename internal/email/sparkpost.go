package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ignite/waitlist-service/internal/config"
	"github.com/ignite/waitlist-service/internal/pkg/httpretry"
	"github.com/ignite/waitlist-service/internal/pkg/logger"
)

// SparkPostSender sends through the SparkPost Transmissions API. The raw API
// key goes in the Authorization header.
type SparkPostSender struct {
	apiKey  string
	baseURL string
	client  httpretry.HTTPDoer
	checker httpretry.HTTPDoer
}

// NewSparkPostSender creates a sender targeting the SparkPost v1 API.
func NewSparkPostSender(cfg config.SparkPostConfig) *SparkPostSender {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.sparkpost.com/api/v1"
	}
	client := &http.Client{Timeout: timeout}
	return &SparkPostSender{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		checker: httpretry.NewRetryClient(client, 2),
	}
}

func (s *SparkPostSender) Name() string       { return "sparkpost" }
func (s *SparkPostSender) IsConfigured() bool { return s.apiKey != "" }

// Send delivers a single email through SparkPost.
func (s *SparkPostSender) Send(ctx context.Context, msg Template) Result {
	if !s.IsConfigured() {
		return notConfigured(s.Name())
	}

	fromName, fromEmail := splitAddress(msg.From)
	from := map[string]string{"email": fromEmail}
	if fromName != "" {
		from["name"] = fromName
	}
	recipient := map[string]interface{}{
		"address": map[string]string{"email": msg.To},
	}
	if len(msg.Tags) > 0 {
		recipient["tags"] = msg.Tags
	}
	transmission := map[string]interface{}{
		"recipients": []map[string]interface{}{recipient},
		"content": map[string]interface{}{
			"from":    from,
			"subject": msg.Subject,
			"html":    msg.HTML,
			"text":    msg.Text,
		},
		"options": map[string]bool{"transactional": true},
	}
	if len(msg.Metadata) > 0 {
		transmission["metadata"] = msg.Metadata
	}

	jsonData, err := json.Marshal(transmission)
	if err != nil {
		return failure(s.Name(), "encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/transmissions", bytes.NewReader(jsonData))
	if err != nil {
		return failure(s.Name(), "create request: %v", err)
	}
	req.Header.Set("Authorization", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return failure(s.Name(), "send request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return failure(s.Name(), "SparkPost error %d: %s", resp.StatusCode, truncate(body, 512))
	}

	var result struct {
		Results struct {
			ID string `json:"id"`
		} `json:"results"`
	}
	_ = json.Unmarshal(body, &result)

	logger.Info("[SparkPost] sent", "recipient", msg.To, "message_id", result.Results.ID)
	return Result{Success: true, MessageID: result.Results.ID, Provider: s.Name()}
}

// TestConnection reads the account endpoint with the configured key.
func (s *SparkPostSender) TestConnection(ctx context.Context) bool {
	if !s.IsConfigured() {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/account", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", s.apiKey)
	return connectionOK(s.checker, req, s.Name())
}

// connectionOK runs an idempotent read-only request and reports a 2xx response.
func connectionOK(client httpretry.HTTPDoer, req *http.Request, provider string) bool {
	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("provider connection test failed", "provider", provider, "error", err.Error())
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Warn("provider connection test rejected", "provider", provider, "status", fmt.Sprint(resp.StatusCode))
		return false
	}
	return true
}
