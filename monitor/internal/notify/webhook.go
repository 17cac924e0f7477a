package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
)

// SignatureHeader carries the hex HMAC-SHA256 of the body when the channel
// has a signing secret.
const SignatureHeader = "X-Pipewatch-Signature"

// WebhookSender posts notifications as JSON.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender returns a sender whose requests are bounded by the
// context deadline set by the registry.
func NewWebhookSender() *WebhookSender {
	return &WebhookSender{client: &http.Client{}}
}

// Send renders n in the channel's format and posts it to ch.Address.
func (s *WebhookSender) Send(ctx context.Context, ch Channel, n Notification) error {
	var payload interface{}
	switch ch.Format {
	case "slack":
		payload = map[string]string{
			"text": fmt.Sprintf("*%s* %s\n%s", severityLabel(n.Severity), n.Summary(), n.Documentation),
		}
	case "teams":
		payload = map[string]interface{}{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(n.Severity),
			"summary":    n.Policy,
			"title":      fmt.Sprintf("Pipeline alert: %s", n.Policy),
			"text":       n.Summary() + "\n\n" + n.Documentation,
		}
	default:
		payload = map[string]interface{}{"notification": n}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pipewatch-Policy", n.Policy)
	if ch.secret != "" {
		req.Header.Set(SignatureHeader, Sign(ch.secret, body))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
