package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	// ErrImageMissing is returned when a photo attachment does not exist or is
	// empty. It is permanent for the destination being served.
	ErrImageMissing = errors.New("image file missing or empty")

	// ErrSessionClosed is returned for calls made after Close.
	ErrSessionClosed = errors.New("session closed")
)

// StatusCode extracts the Bot API error code, or 0 when err is not an API error.
func StatusCode(err error) int {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// IsConflict reports whether the platform rejected a getUpdates call because
// another consumer (or a webhook) holds the token.
func IsConflict(err error) bool { return StatusCode(err) == http.StatusConflict }

// IsWebhookConflict reports a 409 caused by an active webhook rather than a
// competing poller. Deleting the webhook clears it.
func IsWebhookConflict(err error) bool {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) || apiErr.Code != http.StatusConflict {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "webhook")
}

// RetryAfter returns the server-provided backoff hint in seconds, or 0.
func RetryAfter(err error) int {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// IsRetryable classifies errors for the retry policy. Client-side API errors
// and missing attachments are permanent; rate limits, 5xx responses, timeouts
// and transport failures are transient. Cancellation is never retried.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrImageMissing), errors.Is(err, ErrSessionClosed), errors.Is(err, context.Canceled):
		return false
	}
	switch code := StatusCode(err); {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}
