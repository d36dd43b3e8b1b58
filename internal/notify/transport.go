// Package notify delivers archive notifications through a push-message
// channel and implements the channel's retry contract.
package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Transport is the notification channel collaborator. Send calls return
// the channel-assigned message id, which becomes the archive entry id.
type Transport interface {
	SendMessage(ctx context.Context, text string) (string, error)
	SendPhoto(ctx context.Context, caption string, payload []byte, filename string) (string, error)
	SendDocument(ctx context.Context, caption string, payload []byte, filename string) (string, error)
	EditMessage(ctx context.Context, id, text string) error
	DeleteMessage(ctx context.Context, id string) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Config holds HTTP transport settings.
type Config struct {
	BaseURL     string
	Channel     string
	MaxAttempts int
}

// HTTPTransport talks JSON to a bot-style push endpoint. Rate-limit
// responses are retried after the server-advertised delay; 5xx responses
// with exponential backoff; other 4xx responses fail immediately.
type HTTPTransport struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewHTTPTransport builds the production transport.
func NewHTTPTransport(cfg Config, logger *slog.Logger) *HTTPTransport {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

type sendResponse struct {
	ID         string  `json:"id"`
	Error      string  `json:"error,omitempty"`
	RetryAfter float64 `json:"retry_after,omitempty"`
}

func (t *HTTPTransport) SendMessage(ctx context.Context, text string) (string, error) {
	return t.call(ctx, "sendMessage", map[string]any{
		"channel": t.cfg.Channel,
		"text":    text,
	})
}

func (t *HTTPTransport) SendPhoto(ctx context.Context, caption string, payload []byte, filename string) (string, error) {
	return t.call(ctx, "sendPhoto", map[string]any{
		"channel":  t.cfg.Channel,
		"caption":  caption,
		"photo":    base64.StdEncoding.EncodeToString(payload),
		"filename": filename,
	})
}

func (t *HTTPTransport) SendDocument(ctx context.Context, caption string, payload []byte, filename string) (string, error) {
	return t.call(ctx, "sendDocument", map[string]any{
		"channel":  t.cfg.Channel,
		"caption":  caption,
		"document": base64.StdEncoding.EncodeToString(payload),
		"filename": filename,
	})
}

func (t *HTTPTransport) EditMessage(ctx context.Context, id, text string) error {
	_, err := t.call(ctx, "editMessage", map[string]any{
		"channel": t.cfg.Channel,
		"id":      id,
		"text":    text,
	})
	return err
}

func (t *HTTPTransport) DeleteMessage(ctx context.Context, id string) error {
	_, err := t.call(ctx, "deleteMessage", map[string]any{
		"channel": t.cfg.Channel,
		"id":      id,
	})
	return err
}

func (t *HTTPTransport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := t.call(ctx, "answerCallback", map[string]any{
		"callback_id": callbackID,
		"text":        text,
	})
	return err
}

// call posts one method with bounded retry. Retries stop on success, on
// non-rate-limit 4xx, or after MaxAttempts; the final error is returned
// rather than thrown upward as a panic.
func (t *HTTPTransport) call(ctx context.Context, method string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	var lastErr error
	backoff := 500 * time.Millisecond

	for attempt := 0; attempt < t.cfg.MaxAttempts; attempt++ {
		id, retryIn, err := t.post(ctx, method, body)
		if err == nil {
			return id, nil
		}
		lastErr = err

		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return "", err
		}

		wait := backoff
		if retryIn > 0 {
			wait = retryIn
		} else {
			backoff *= 2
		}
		t.logger.Warn("notification retry", "method", method, "attempt", attempt+1, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", fmt.Errorf("%s: retries exhausted: %w", method, lastErr)
}

type retryableError struct {
	status int
}

func (e *retryableError) Error() string {
	return "transport status " + strconv.Itoa(e.status)
}

func (t *HTTPTransport) post(ctx context.Context, method string, body []byte) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", 0, &retryableError{status: 0}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out sendResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", 0, fmt.Errorf("%s: decode response: %w", method, err)
		}
		return out.ID, 0, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", retryAfter(resp, raw), &retryableError{status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return "", 0, &retryableError{status: resp.StatusCode}
	default:
		return "", 0, fmt.Errorf("%s: status %d: %s", method, resp.StatusCode, bytes.TrimSpace(raw))
	}
}

// retryAfter reads the server-specified backoff from the Retry-After
// header or the response body.
func retryAfter(resp *http.Response, raw []byte) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	var out sendResponse
	if err := json.Unmarshal(raw, &out); err == nil && out.RetryAfter > 0 {
		return time.Duration(out.RetryAfter * float64(time.Second))
	}
	return 0
}

// ScheduleDelete deletes a message after the delay, best effort. The
// target may have been deleted in the meantime; errors are swallowed.
func ScheduleDelete(t Transport, id string, after time.Duration, logger *slog.Logger) *time.Timer {
	if logger == nil {
		logger = slog.Default()
	}
	return time.AfterFunc(after, func() {
		if err := t.DeleteMessage(context.Background(), id); err != nil {
			logger.Debug("scheduled delete failed", "id", id, "error", err)
		}
	})
}
