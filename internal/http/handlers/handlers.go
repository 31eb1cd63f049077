package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/signal-relay/internal/botmanager"
	"github.com/tbourn/signal-relay/internal/events"
	"github.com/tbourn/signal-relay/internal/pipeline"
	"github.com/tbourn/signal-relay/internal/services"
)

//
// Service contracts
//

// EventGate accepts validated batches for delivery.
type EventGate interface {
	Submit(b *events.Batch) pipeline.Outcome
}

// BotRegistry manages bot identities.
type BotRegistry interface {
	Register(ctx context.Context, token, brand, proxy string) (botmanager.Registration, error)
	Stop(id int64) bool
	List() []botmanager.Info
}

// MemberCounter answers member counts through a bot session.
type MemberCounter interface {
	Count(ctx context.Context, api services.ChatAPI, chatID int64) (int, error)
}

// ChatPicker returns the session used for lookups outside any update.
type ChatPicker func() (services.ChatAPI, bool)

//
// Handler wiring
//

// Deps are the collaborators of Handlers.
type Deps struct {
	Events       EventGate
	Bots         BotRegistry
	Members      MemberCounter
	Chat         ChatPicker
	DB           *gorm.DB
	DefaultBrand string
}

// Handlers groups the relay endpoints.
type Handlers struct {
	deps Deps
}

// New constructs Handlers bound to deps.
func New(deps Deps) *Handlers {
	return &Handlers{deps: deps}
}
