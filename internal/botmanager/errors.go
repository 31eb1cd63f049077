package botmanager

import "errors"

var (
	// ErrHandshake is returned when the session cannot be opened or getMe fails.
	ErrHandshake = errors.New("bot handshake failed")

	// ErrCapacity is returned when MaxBots identities are already registered.
	ErrCapacity = errors.New("max bots reached")

	// ErrConflict is returned when another consumer is polling the same token.
	ErrConflict = errors.New("other instance running")
)

// Conflict warnings reported by Register.
const (
	WarnWebhookActive       = "webhook_active"
	WarnOtherInstance       = "other_instance_running"
	WarnTokenMismatch       = "token_mismatch"
	WarnWebhookDeleteFailed = "webhook_delete_failed"
)

// Registration statuses.
const (
	StatusStarted        = "started"
	StatusAlreadyStarted = "already_started"
)
