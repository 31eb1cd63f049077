// Bot registry endpoints.
//
//   - POST /bots/register
//   - POST /bots/stop
//   - GET  /bots/list
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/signal-relay/internal/botmanager"
)

//
// DTOs
//

// RegisterBotRequest is the JSON payload for bringing a token online.
type RegisterBotRequest struct {
	// Token is the Bot API token.
	Token string `json:"token" binding:"required" example:"123456:ABC-DEF"`
	// Brand selects which bot serves a brand's deliveries; defaults to the configured brand.
	Brand string `json:"brand" example:"acme"`
	// Proxy optionally routes this bot's API traffic.
	Proxy string `json:"proxy,omitempty" example:"http://10.0.0.5:3128"`
}

// StopBotRequest is the JSON payload for stopping a bot.
type StopBotRequest struct {
	BotID int64 `json:"bot_id" binding:"required" example:"123456"`
}

// StopBotResponse reports whether a live bot was stopped.
type StopBotResponse struct {
	BotID   int64 `json:"bot_id"`
	Stopped bool  `json:"stopped"`
}

// BotListResponse lists live bots.
type BotListResponse struct {
	Bots []botmanager.Info `json:"bots"`
}

// RegisterBot godoc
// @ID          registerBot
// @Summary     Register a bot token
// @Description Opens a session, checks for competing consumers, clears any webhook and starts polling.
// @Tags        Bots
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.RegisterBotRequest  true  "Bot token"
//
// @Success     200  {object}  botmanager.Registration
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     409  {object}  botmanager.Registration
// @Failure     429  {object}  handlers.ErrorResponse
// @Failure     502  {object}  handlers.ErrorResponse
// @Router      /bots/register [post]
func (h *Handlers) RegisterBot(c *gin.Context) {
	var req RegisterBotRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "token is required")
		return
	}
	brand := strings.TrimSpace(req.Brand)
	if brand == "" {
		brand = h.deps.DefaultBrand
	}

	reg, err := h.deps.Bots.Register(c.Request.Context(), strings.TrimSpace(req.Token), brand, strings.TrimSpace(req.Proxy))
	switch {
	case err == nil:
		ok(c, reg)
	case errors.Is(err, botmanager.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, reg)
	case errors.Is(err, botmanager.ErrCapacity):
		fail(c, http.StatusTooManyRequests, ErrCodeCapacity, err.Error())
	case errors.Is(err, botmanager.ErrHandshake):
		fail(c, http.StatusBadGateway, ErrCodeHandshakeFailed, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not register bot")
	}
}

// StopBot godoc
// @ID          stopBot
// @Summary     Stop a bot
// @Description Halts polling and background tasks for the bot and forgets it. Unknown ids answer stopped=false.
// @Tags        Bots
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       body  body  handlers.StopBotRequest  true  "Bot id"
//
// @Success     200  {object}  handlers.StopBotResponse
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /bots/stop [post]
func (h *Handlers) StopBot(c *gin.Context) {
	var req StopBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bot_id is required")
		return
	}
	ok(c, StopBotResponse{BotID: req.BotID, Stopped: h.deps.Bots.Stop(req.BotID)})
}

// ListBots godoc
// @ID          listBots
// @Summary     List live bots
// @Tags        Bots
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object}  handlers.BotListResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /bots/list [get]
func (h *Handlers) ListBots(c *gin.Context) {
	bots := h.deps.Bots.List()
	if bots == nil {
		bots = []botmanager.Info{}
	}
	ok(c, BotListResponse{Bots: bots})
}
