// Event ingestion endpoints.
//
//   - POST /events/{kind}
//   - legacy publisher paths (/api/send_copy_signal, ...) bound to a fixed kind
//
// The handler validates synchronously and hands the batch to the gate;
// delivery happens in the background.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/signal-relay/internal/events"
	"github.com/tbourn/signal-relay/internal/http/middleware"
	"github.com/tbourn/signal-relay/internal/pipeline"
)

const (
	msgAccepted  = "accepted, delivery in progress"
	msgDuplicate = "duplicate event skipped"
)

// LegacyRoutes maps the publisher's historical paths to event kinds.
var LegacyRoutes = map[string]events.Kind{
	"/api/send_copy_signal":       events.KindTradeOpen,
	"/api/signal/completed_trade": events.KindTradeClose,
	"/api/signal/scalp_update":    events.KindTPSLUpdate,
	"/api/report/holdings":        events.KindHolding,
	"/api/report/weekly":          events.KindWeekly,
	"/api/announcement":           events.KindAnnouncement,
}

// PostEvent godoc
// @ID          postEvent
// @Summary     Submit an event for delivery
// @Description Validates the body for the kind and schedules fan-out. Duplicates (same Idempotency-Key, id/request_id, or derived hash) answer 200 without work.
// @Tags        Events
// @Accept      json
// @Produce     json
//
// @Param       kind             path    string  true  "Event kind"  Enums(trade-open, trade-close, tp-sl-update, holding-report, weekly-report, announcement)
// @Param       Idempotency-Key  header  string  false "Caller idempotency key"
// @Param       body             body    object  true  "Kind-specific payload"
//
// @Success     200  {object}  handlers.StatusResponse
// @Failure     400  {object}  handlers.StatusResponse
// @Router      /events/{kind} [post]
func (h *Handlers) PostEvent(c *gin.Context) {
	kind, known := events.ParseKind(c.Param("kind"))
	if !known {
		reply(c, http.StatusBadRequest, "unknown event kind: "+c.Param("kind"))
		return
	}
	h.submit(c, kind)
}

// EventAlias binds a legacy path to kind.
func (h *Handlers) EventAlias(kind events.Kind) gin.HandlerFunc {
	return func(c *gin.Context) { h.submit(c, kind) }
}

func (h *Handlers) submit(c *gin.Context, kind events.Kind) {
	if ct := c.ContentType(); ct != "application/json" {
		reply(c, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			reply(c, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		reply(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	headerKey, _ := middleware.GetIdempotencyKey(c)
	batch, err := events.Decode(kind, body, strings.TrimSpace(headerKey))
	if err != nil {
		reply(c, http.StatusBadRequest, err.Error())
		return
	}

	lg := middleware.LoggerFrom(c)
	switch h.deps.Events.Submit(batch) {
	case pipeline.Duplicate:
		lg.Info().Str("kind", string(kind)).Msg("duplicate event")
		reply(c, http.StatusOK, msgDuplicate)
	default:
		lg.Info().Str("kind", string(kind)).Int("events", len(batch.Events)).Msg("event accepted")
		reply(c, http.StatusOK, msgAccepted)
	}
}
