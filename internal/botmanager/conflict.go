package botmanager

import (
	"context"
	"strconv"
	"strings"

	"github.com/tbourn/signal-relay/internal/notify"
)

// detectConflicts probes for other consumers of the token. Only
// other_instance_running is fatal; the rest are advisory. Probe failures
// other than a 409 are ignored.
//
// While a webhook is set the platform answers every getUpdates with 409, so
// the getUpdates check is skipped and the webhook is left for the caller to
// delete. A webhook 409 from getUpdates (webhook info failed) is advisory.
func detectConflicts(ctx context.Context, s Session, token string, botID int64) (warnings []string, fatal bool) {
	webhook := false
	if info, err := s.GetWebhookInfo(ctx); err == nil && info.URL != "" {
		webhook = true
		warnings = append(warnings, WarnWebhookActive)
	}

	if !webhook {
		_, err := s.GetUpdates(ctx, 0, 0, 1, nil)
		switch {
		case err == nil || !notify.IsConflict(err):
		case notify.IsWebhookConflict(err):
			warnings = append(warnings, WarnWebhookActive)
		default:
			warnings = append(warnings, WarnOtherInstance)
			fatal = true
		}
	}

	if prefix, _, ok := strings.Cut(token, ":"); ok && prefix != strconv.FormatInt(botID, 10) {
		warnings = append(warnings, WarnTokenMismatch)
	}
	return warnings, fatal
}
