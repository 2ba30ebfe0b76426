package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bardlex/cryptodecoy/pkg/errors"
)

// maxErrorBody bounds how much of a failed response ends up in the error
const maxErrorBody = 512

// WebhookNotifier posts events to an incoming-webhook URL. Failed
// deliveries are returned, never retried.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a notifier for url. A zero timeout means 10s.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify sends one event. Any non-2xx response is an error.
func (w *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(BuildPayload(event))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode_payload",
			"failed to encode webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "build_request",
			"failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWebhook, "post_webhook",
			"webhook request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return errors.New(errors.ErrorTypeWebhook, "post_webhook",
			fmt.Sprintf("webhook returned %d", resp.StatusCode)).
			WithContext("status", resp.StatusCode).
			WithContext("body", string(snippet))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
