package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/signal-relay/internal/repo"
)

// MemberCountService answers member-count queries, caching each chat's
// count for a short TTL.
type MemberCountService struct {
	// DB, when set, receives the fresh count for tracked groups.
	DB *gorm.DB

	cache *TTLCache
}

// NewMemberCountService constructs the service with a cache of ttl.
func NewMemberCountService(db *gorm.DB, ttl time.Duration) (*MemberCountService, error) {
	c, err := NewTTLCache(ttl)
	if err != nil {
		return nil, err
	}
	return &MemberCountService{DB: db, cache: c}, nil
}

// ParseChatID validates a chat id query value.
func ParseChatID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidChatID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrInvalidChatID
	}
	return id, nil
}

// Count returns the number of members of chatID.
func (s *MemberCountService) Count(ctx context.Context, api ChatAPI, chatID int64) (int, error) {
	key := "members:" + strconv.FormatInt(chatID, 10)
	if v, ok := s.cache.Get(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n, nil
		}
	}
	n, err := api.GetChatMemberCount(ctx, chatID)
	if err != nil {
		return 0, err
	}
	s.cache.Set(key, strconv.Itoa(n))
	if s.DB != nil {
		if err := repo.SetMemberCount(ctx, s.DB, chatID, n); err != nil {
			log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to store member count")
		}
	}
	return n, nil
}

// Close releases the cache.
func (s *MemberCountService) Close() error { return s.cache.Close() }
