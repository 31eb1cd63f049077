// Package updates binds inbound bot updates to the membership services:
// /verify and /groups commands, the bots' own membership changes and other
// members joining or leaving.
package updates

import (
	"context"
	"errors"
	"html"

	"github.com/tbourn/signal-relay/internal/botmanager"
	"github.com/tbourn/signal-relay/internal/notify"
	"github.com/tbourn/signal-relay/internal/render"
	"github.com/tbourn/signal-relay/internal/services"
)

// Handlers holds the services the update routes call into.
type Handlers struct {
	Groups  *services.GroupService
	Verify  *services.VerifyService
	Catalog *render.Catalog
}

// Router returns a router with every route registered.
func (h *Handlers) Router() *botmanager.Router {
	r := botmanager.NewRouter()
	r.Command("verify", h.verify)
	r.Command("groups", h.groups)
	r.OnMyChatMember(h.myChatMember)
	r.OnChatMember(h.chatMember)
	return r
}

func (h *Handlers) verify(ctx context.Context, c *botmanager.Context) error {
	msg := c.Update.Message
	req := services.VerifyRequest{
		ChatID:  msg.Chat.ID,
		Mention: services.Mention(msg.From),
		Code:    c.Args,
	}
	if msg.From != nil {
		req.UserID = msg.From.ID
	}
	text, err := h.Verify.Verify(ctx, c.Bot.Session(), req)
	if rerr := c.Reply(ctx, text, services.ParseModeHTML); rerr != nil {
		return rerr
	}
	if errors.Is(err, services.ErrCodeTaken) || errors.Is(err, services.ErrNoSocial) {
		return nil
	}
	return err
}

func (h *Handlers) groups(ctx context.Context, c *botmanager.Context) error {
	list, err := h.Groups.List(ctx, true)
	if err != nil {
		return err
	}
	summary, _ := h.Catalog.Text("", "groups.summary", map[string]any{"Count": len(list)})
	text := html.EscapeString(summary)
	if len(list) > 0 {
		text += "\n<pre>" + html.EscapeString(services.Table(list)) + "</pre>"
	}
	return c.Reply(ctx, text, services.ParseModeHTML)
}

// myChatMember tracks the chats the bot itself was added to or removed from.
func (h *Handlers) myChatMember(ctx context.Context, c *botmanager.Context) error {
	ev := c.Update.MyChatMember
	switch ev.NewChatMember.Status {
	case "member", "administrator":
		_, err := h.Groups.Joined(ctx, c.Bot.Session(), ev.Chat.ID)
		return err
	case "left", "kicked":
		return h.Groups.Left(ctx, ev.Chat.ID)
	}
	return nil
}

// chatMember greets members who just joined and revokes verified access
// from members who left.
func (h *Handlers) chatMember(ctx context.Context, c *botmanager.Context) error {
	ev := c.Update.ChatMember
	oldStatus, newStatus := ev.OldChatMember.Status, ev.NewChatMember.Status
	user := ev.NewChatMember.User
	if user == nil {
		user = &ev.From
	}

	switch {
	case oldStatus != "member" && newStatus == "member":
		text, err := h.Verify.Welcome(ctx, ev.Chat.ID, services.Mention(user))
		out := notify.Outgoing{ChatID: ev.Chat.ID, Text: text, ParseMode: services.ParseModeHTML}
		if serr := c.Bot.Send(ctx, out); serr != nil {
			return serr
		}
		if errors.Is(err, services.ErrNoSocial) {
			return nil
		}
		return err
	case isPresent(oldStatus) && (newStatus == "left" || newStatus == "kicked"):
		return h.Verify.MemberLeft(ctx, c.Bot.Session(), ev.Chat.ID, user.ID)
	}
	return nil
}

func isPresent(status string) bool {
	switch status {
	case "member", "administrator", "creator", "restricted":
		return true
	}
	return false
}

var _ services.ChatAPI = botmanager.Session(nil)
