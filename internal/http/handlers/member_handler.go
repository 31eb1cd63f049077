package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/signal-relay/internal/http/middleware"
	"github.com/tbourn/signal-relay/internal/services"
)

// MemberCountResponse is the success body of GET /api/get_member_count.
type MemberCountResponse struct {
	Status      string `json:"status" example:"success"`
	ChatID      int64  `json:"chat_id" example:"-1001234567890"`
	MemberCount int    `json:"member_count" example:"842"`
}

// MemberCountError is the failure body of GET /api/get_member_count.
type MemberCountError struct {
	Status  string `json:"status" example:"error"`
	Message string `json:"message" example:"Missing 'chat_id' parameter."`
}

// GetMemberCount godoc
// @ID          getMemberCount
// @Summary     Member count of a chat
// @Description Answers from a short-lived cache, otherwise asks the Bot API.
// @Tags        Groups
// @Produce     json
//
// @Param       chat_id  query  int  true  "Chat id"
//
// @Success     200  {object}  handlers.MemberCountResponse
// @Failure     400  {object}  handlers.MemberCountError
// @Failure     500  {object}  handlers.MemberCountError
// @Router      /api/get_member_count [get]
func (h *Handlers) GetMemberCount(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("chat_id"))
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, MemberCountError{Status: "error", Message: "Missing 'chat_id' parameter."})
		return
	}
	chatID, err := services.ParseChatID(raw)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, MemberCountError{Status: "error", Message: "'chat_id' must be an integer."})
		return
	}

	var api services.ChatAPI
	if h.deps.Chat != nil {
		api, _ = h.deps.Chat()
	}
	if api == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, MemberCountError{Status: "error", Message: "Failed to fetch member count."})
		return
	}

	n, err := h.deps.Members.Count(c.Request.Context(), api, chatID)
	if err != nil {
		lg := middleware.LoggerFrom(c)
		lg.Warn().Err(err).Int64("chat_id", chatID).Msg("member count lookup failed")
		c.AbortWithStatusJSON(http.StatusInternalServerError, MemberCountError{Status: "error", Message: "Failed to fetch member count."})
		return
	}
	ok(c, MemberCountResponse{Status: "success", ChatID: chatID, MemberCount: n})
}
