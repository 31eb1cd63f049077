package botmanager

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Update types the dispatcher subscribes to.
var allowedUpdates = []string{"message", "my_chat_member", "chat_member"}

// Context carries one inbound update and the bot it arrived on.
type Context struct {
	Bot    *Bot
	Update tgbotapi.Update
	Args   string // command arguments, trimmed
}

// Reply sends text back to the chat of the update's message.
func (c *Context) Reply(ctx context.Context, text, parseMode string) error {
	msg := c.Update.Message
	if msg == nil {
		return nil
	}
	return c.Bot.Session().SendText(ctx, msg.Chat.ID, 0, text, parseMode)
}

// HandlerFunc handles one update. Errors are logged by the router.
type HandlerFunc func(ctx context.Context, c *Context) error

// Router maps commands and membership updates to handlers. A Router is
// configured before registration starts and is read-only afterwards, so one
// instance can be shared by every bot.
type Router struct {
	commands     map[string]HandlerFunc
	myChatMember []HandlerFunc
	chatMember   []HandlerFunc
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{commands: map[string]HandlerFunc{}}
}

// Command registers h for "/name".
func (r *Router) Command(name string, h HandlerFunc) {
	r.commands[strings.ToLower(strings.TrimPrefix(name, "/"))] = h
}

// OnMyChatMember registers a handler for changes to the bot's own membership.
func (r *Router) OnMyChatMember(h HandlerFunc) { r.myChatMember = append(r.myChatMember, h) }

// OnChatMember registers a handler for other members' status changes.
func (r *Router) OnChatMember(h HandlerFunc) { r.chatMember = append(r.chatMember, h) }

// Dispatch routes u to its handlers. Handler panics are recovered.
func (r *Router) Dispatch(ctx context.Context, b *Bot, u tgbotapi.Update) {
	c := &Context{Bot: b, Update: u}
	switch {
	case u.Message != nil:
		name, args, ok := parseCommand(u.Message.Text, b.Username)
		if !ok {
			return
		}
		h, found := r.commands[name]
		if !found {
			return
		}
		c.Args = args
		r.run(ctx, c, "/"+name, h)
	case u.MyChatMember != nil:
		for _, h := range r.myChatMember {
			r.run(ctx, c, "my_chat_member", h)
		}
	case u.ChatMember != nil:
		for _, h := range r.chatMember {
			r.run(ctx, c, "chat_member", h)
		}
	}
}

func (r *Router) run(ctx context.Context, c *Context, route string, h HandlerFunc) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Int64("bot_id", c.Bot.ID).Str("route", route).Msg("handler panic")
		}
	}()
	if err := h(ctx, c); err != nil {
		log.Warn().Err(err).Int64("bot_id", c.Bot.ID).Str("route", route).Msg("handler failed")
	}
}

// parseCommand splits "/cmd@bot args". Commands addressed to another bot are
// ignored.
func parseCommand(text, username string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text, " ")
	head = strings.TrimPrefix(head, "/")
	if cmd, target, addressed := strings.Cut(head, "@"); addressed {
		if !strings.EqualFold(target, username) {
			return "", "", false
		}
		head = cmd
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}
