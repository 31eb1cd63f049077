// Package services – GroupService
//
// GroupService tracks the chats the bots are members of. It is fed by
// my_chat_member updates: joins refresh the stored chat details and member
// count, removals mark the group inactive with the leave time.
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/signal-relay/internal/domain"
	"github.com/tbourn/signal-relay/internal/repo"
)

// GroupService persists group membership changes.
type GroupService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Now is the clock used for join/leave timestamps.
	Now func() time.Time

	log zerolog.Logger
}

// NewGroupService constructs a GroupService using the wall clock.
func NewGroupService(db *gorm.DB) *GroupService {
	return &GroupService{
		DB:  db,
		Now: func() time.Time { return time.Now().UTC() },
		log: log.With().Str("component", "groups").Logger(),
	}
}

// Joined records that a bot became a member or administrator of chatID.
// Chat details come from GetChat; a failing member count is stored as 0.
func (s *GroupService) Joined(ctx context.Context, api ChatAPI, chatID int64) (*domain.Group, error) {
	chat, err := api.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	count, err := api.GetChatMemberCount(ctx, chatID)
	if err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("member count unavailable")
		count = 0
	}
	g := &domain.Group{
		ChatID:      chatID,
		Title:       chat.Title,
		Type:        chat.Type,
		Username:    chat.UserName,
		Description: chat.Description,
		MemberCount: count,
		JoinedAt:    s.Now(),
	}
	if err := repo.UpsertGroup(ctx, s.DB, g); err != nil {
		return nil, err
	}
	s.log.Info().Int64("chat_id", chatID).Str("title", g.Title).Int("members", count).Msg("group tracked")
	return g, nil
}

// Left marks chatID inactive. Untracked chats are ignored.
func (s *GroupService) Left(ctx context.Context, chatID int64) error {
	err := repo.DeactivateGroup(ctx, s.DB, chatID, s.Now())
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err == nil {
		s.log.Info().Int64("chat_id", chatID).Msg("group left")
	}
	return err
}

// ActiveChatIDs returns the ids of every active group.
func (s *GroupService) ActiveChatIDs(ctx context.Context) ([]int64, error) {
	return repo.ActiveChatIDs(ctx, s.DB)
}

// List returns tracked groups, optionally only active ones.
func (s *GroupService) List(ctx context.Context, activeOnly bool) ([]domain.Group, error) {
	return repo.ListGroups(ctx, s.DB, activeOnly)
}

// Table renders groups as a plain-text table.
func Table(groups []domain.Group) string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.SetHeader([]string{"Chat ID", "Title", "Type", "Members"})
	table.SetAutoWrapText(false)
	for _, g := range groups {
		table.Append([]string{
			strconv.FormatInt(g.ChatID, 10),
			g.Title,
			g.Type,
			strconv.Itoa(g.MemberCount),
		})
	}
	table.SetColumnAlignment([]int{tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	table.Render()
	return sb.String()
}
