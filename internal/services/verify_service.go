// Package services – VerifyService
//
// VerifyService runs the admission workflow of private communities. A user
// sends "/verify <code>" in a verify group; the code is checked by the social
// admin service and, on success, the user is recorded and handed a single-use
// invite link to the community's info group. The same service greets new
// members and revokes info-group access when a verified user leaves.
//
// Replies are localized with the render catalog in the community's language.
// Admin-provided texts are sent as HTML.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/tbourn/signal-relay/internal/domain"
	"github.com/tbourn/signal-relay/internal/render"
	"github.com/tbourn/signal-relay/internal/repo"
	"github.com/tbourn/signal-relay/internal/resolver"
)

// Directory lists the communities known to the social admin service.
type Directory interface {
	Socials(ctx context.Context) ([]resolver.Social, error)
}

// VerifyRequest is one /verify command.
type VerifyRequest struct {
	ChatID  int64
	UserID  int64
	Mention string // @username or full name
	Code    string
}

// VerifyService implements verification, welcomes and leave handling.
type VerifyService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Dir resolves a chat to its community.
	Dir Directory
	// Catalog localizes the service's own replies.
	Catalog *render.Catalog
	// AdminHandle replaces {admin} in verification texts.
	AdminHandle string
	// InviteTTL bounds the lifetime of issued invite links.
	InviteTTL time.Duration
	// Now is the clock used for verification and link expiry.
	Now func() time.Time

	admin adminClient
	log   zerolog.Logger
}

// NewVerifyService constructs a VerifyService talking to the admin service
// at adminURL.
func NewVerifyService(db *gorm.DB, dir Directory, cat *render.Catalog, adminURL string, timeout time.Duration) *VerifyService {
	return &VerifyService{
		DB:          db,
		Dir:         dir,
		Catalog:     cat,
		AdminHandle: "admin",
		InviteTTL:   24 * time.Hour,
		Now:         func() time.Time { return time.Now().UTC() },
		admin:       newAdminClient(adminURL, timeout),
		log:         log.With().Str("component", "verify").Logger(),
	}
}

// Verify checks req.Code and returns the reply for the user. The reply is
// always set; err is only for logging.
func (s *VerifyService) Verify(ctx context.Context, api ChatAPI, req VerifyRequest) (string, error) {
	ctx, span := otel.Tracer("services").Start(ctx, "Verify")
	defer span.End()
	span.SetAttributes(attribute.Int64("chat_id", req.ChatID), attribute.Int64("user_id", req.UserID))

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return s.text("", "verify.usage", nil), nil
	}

	social, err := s.social(ctx, req.ChatID)
	if errors.Is(err, ErrNoSocial) {
		return s.text("", "verify.no_group", nil), err
	}
	if err != nil {
		return s.text("", "verify.failed", nil), err
	}
	locale := resolver.NormalizeLocale(social.Lang)

	holder, err := repo.FindActiveByCode(ctx, s.DB, code)
	switch {
	case err == nil && holder.UserID != req.UserID:
		s.log.Info().Int64("user_id", req.UserID).Int64("holder", holder.UserID).Msg("code already taken")
		return s.text(locale, "verify.already", map[string]any{"User": req.Mention}), ErrCodeTaken
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return s.text(locale, "verify.failed", nil), err
	}

	verifyGroup := social.VerifyGroup
	if verifyGroup == 0 {
		verifyGroup = req.ChatID
	}
	reply, err := s.admin.post(ctx, "verify", url.Values{
		"verifyGroup": {strconv.FormatInt(verifyGroup, 10)},
		"code":        {code},
	})
	if err != nil {
		return s.text(locale, "verify.failed", nil), err
	}
	if !reply.OK() {
		return reply.Text(s.text(locale, "verify.failed", nil)), nil
	}

	msg := strings.NewReplacer("{username}", req.Mention, "{admin}", s.AdminHandle).Replace(reply.Text(""))
	u := &domain.VerifiedUser{
		UserID:        req.UserID,
		VerifyGroupID: verifyGroup,
		InfoGroupID:   social.InfoGroup,
		Code:          code,
		VerifiedAt:    s.Now(),
	}
	switch err := repo.ClaimCode(ctx, s.DB, u); {
	case errors.Is(err, repo.ErrCodeHeld):
		s.log.Info().Int64("user_id", req.UserID).Msg("code claimed concurrently")
		return s.text(locale, "verify.already", map[string]any{"User": req.Mention}), ErrCodeTaken
	case err != nil:
		s.log.Error().Err(err).Int64("user_id", req.UserID).Msg("failed to record verification")
	}

	if social.InfoGroup != 0 {
		link, err := api.CreateInviteLink(ctx, social.InfoGroup, 1, s.Now().Add(s.InviteTTL))
		if err != nil {
			s.log.Warn().Err(err).Int64("info_group", social.InfoGroup).Msg("invite link failed")
			return msg, nil
		}
		return s.text(locale, "verify.invite", map[string]any{"Message": msg, "Link": link}), nil
	}
	return msg, nil
}

// Welcome returns the greeting for a member who just joined chatID.
func (s *VerifyService) Welcome(ctx context.Context, chatID int64, mention string) (string, error) {
	ctx, span := otel.Tracer("services").Start(ctx, "Welcome")
	defer span.End()

	social, err := s.social(ctx, chatID)
	if errors.Is(err, ErrNoSocial) {
		return s.text("", "verify.no_group", nil), err
	}
	if err != nil {
		return s.text("", "welcome.missing", nil), err
	}
	locale := resolver.NormalizeLocale(social.Lang)

	verifyGroup := social.VerifyGroup
	if verifyGroup == 0 {
		verifyGroup = chatID
	}
	reply, err := s.admin.post(ctx, "welcome_msg", url.Values{"verifyGroup": {strconv.FormatInt(verifyGroup, 10)}})
	if err != nil {
		return s.text(locale, "welcome.missing", nil), err
	}
	raw := reply.Text(s.text(locale, "welcome.default", map[string]any{"User": "{username}"}))
	return strings.ReplaceAll(raw, "{username}", mention), nil
}

// MemberLeft revokes a verified user's access after they left the verify
// group chatID: the verification is deactivated and the user is removed from
// the info group (ban then unban so they may rejoin with a new link).
func (s *VerifyService) MemberLeft(ctx context.Context, api ChatAPI, chatID, userID int64) error {
	u, err := repo.DeactivateVerifiedUser(ctx, s.DB, userID, chatID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.log.Info().Int64("user_id", userID).Int64("verify_group", chatID).Msg("verification revoked")
	if u.InfoGroupID == 0 {
		return nil
	}
	if err := api.BanMember(ctx, u.InfoGroupID, userID); err != nil {
		return fmt.Errorf("remove from info group: %w", err)
	}
	return api.UnbanMember(ctx, u.InfoGroupID, userID)
}

// social finds the community chatID belongs to, as its verify group, its
// main group or one of its subscribed chats.
func (s *VerifyService) social(ctx context.Context, chatID int64) (resolver.Social, error) {
	if s.Dir == nil {
		return resolver.Social{}, ErrNotConfigured
	}
	socials, err := s.Dir.Socials(ctx)
	if err != nil {
		return resolver.Social{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if soc, ok := MatchSocial(socials, chatID); ok {
		return soc, nil
	}
	return resolver.Social{}, ErrNoSocial
}

// MatchSocial returns the first social whose verify group, social group or
// chats include chatID.
func MatchSocial(socials []resolver.Social, chatID int64) (resolver.Social, bool) {
	for _, soc := range socials {
		if soc.VerifyGroup == chatID || soc.SocialGroup == chatID {
			return soc, true
		}
		for _, ch := range soc.Chats {
			if ch.ChatID == chatID {
				return soc, true
			}
		}
	}
	return resolver.Social{}, false
}

func (s *VerifyService) text(locale, key string, data any) string {
	if s.Catalog == nil {
		return key
	}
	if out, ok := s.Catalog.Text(locale, key, data); ok {
		return out
	}
	return key
}
