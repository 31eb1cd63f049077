package services

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChatAPI is the slice of a bot session the services need. Handlers pass the
// session of the bot the update arrived on.
type ChatAPI interface {
	SendText(ctx context.Context, chatID, topicID int64, text, parseMode string) error
	CreateInviteLink(ctx context.Context, chatID int64, memberLimit int, expire time.Time) (string, error)
	BanMember(ctx context.Context, chatID, userID int64) error
	UnbanMember(ctx context.Context, chatID, userID int64) error
	GetChat(ctx context.Context, chatID int64) (tgbotapi.Chat, error)
	GetChatMemberCount(ctx context.Context, chatID int64) (int, error)
}

// ParseModeHTML is used for every reply built from admin-provided text.
const ParseModeHTML = tgbotapi.ModeHTML

// Mention renders a user the way replies address them: @username when set,
// otherwise the full name.
func Mention(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}
