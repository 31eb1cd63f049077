// Delivery report endpoints.
//
//   - GET /events/reports         (recent reports, ETag support)
//   - GET /events/reports/totals  (per-kind sums over a window)
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/signal-relay/internal/domain"
	"github.com/tbourn/signal-relay/internal/events"
	"github.com/tbourn/signal-relay/internal/repo"
	"github.com/tbourn/signal-relay/internal/utils"
)

const (
	defaultReportLimit = 50
	maxReportLimit     = 200
	defaultTotalsSince = 24 * time.Hour
)

// ReportListResponse lists delivery reports, newest first.
type ReportListResponse struct {
	Reports []domain.DeliveryReport `json:"reports"`
}

// ReportTotalsResponse aggregates reports per kind.
type ReportTotalsResponse struct {
	Since  *time.Time        `json:"since,omitempty"`
	Totals []repo.KindTotals `json:"totals"`
}

// ListReports godoc
// @ID          listReports
// @Summary     Recent delivery reports
// @Description Newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Events
// @Produce     json
// @Security    BearerAuth
//
// @Param       kind           query   string  false "Event kind filter"
// @Param       limit          query   int     false "Max reports"  minimum(1) maximum(200) default(50)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
//
// @Success     200  {object}  handlers.ReportListResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /events/reports [get]
func (h *Handlers) ListReports(c *gin.Context) {
	kind := strings.TrimSpace(c.Query("kind"))
	if kind != "" {
		if _, known := events.ParseKind(kind); !known {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown event kind: "+kind)
			return
		}
	}
	limit := utils.Clamp(utils.AtoiDefault(c.Query("limit"), defaultReportLimit), 1, maxReportLimit)

	items, err := repo.ListReports(c.Request.Context(), h.deps.DB, kind, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	var newest int64
	if len(items) > 0 {
		newest = items[0].ID
	}
	etag := fmt.Sprintf(`W/"reports:%s:%d:%d:%d"`, kind, limit, len(items), newest)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return
	}

	if items == nil {
		items = []domain.DeliveryReport{}
	}
	ok(c, ReportListResponse{Reports: items})
}

// ReportTotals godoc
// @ID          reportTotals
// @Summary     Delivery totals per kind
// @Tags        Events
// @Produce     json
// @Security    BearerAuth
//
// @Param       since  query  string  false "Look-back window, e.g. 24h or 7d; 0s for all time"  default(24h)
//
// @Success     200  {object}  handlers.ReportTotalsResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /events/reports/totals [get]
func (h *Handlers) ReportTotals(c *gin.Context) {
	since := utils.SinceDefault(c.Query("since"), defaultTotalsSince, time.Now())

	totals, err := repo.ReportTotals(c.Request.Context(), h.deps.DB, since)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if totals == nil {
		totals = []repo.KindTotals{}
	}
	resp := ReportTotalsResponse{Totals: totals}
	if !since.IsZero() {
		resp.Since = &since
	}
	ok(c, resp)
}
