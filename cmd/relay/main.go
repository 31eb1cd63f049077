// Command relay runs the signal relay: the HTTP ingestion and admin API, the
// Telegram bot fleet and the background delivery pipeline.
//
// @title          Signal Relay API
// @version        1.0
// @description    Accepts trading events, de-duplicates them and fans them out to Telegram groups; manages the bot fleet.
// @BasePath       /
// @schemes        http https
//
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                "Bearer <BOT_ADMIN_TOKEN>"
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	_ "github.com/tbourn/signal-relay/docs"
	"github.com/tbourn/signal-relay/internal/botmanager"
	"github.com/tbourn/signal-relay/internal/config"
	"github.com/tbourn/signal-relay/internal/dedup"
	httpapi "github.com/tbourn/signal-relay/internal/http"
	"github.com/tbourn/signal-relay/internal/http/handlers"
	"github.com/tbourn/signal-relay/internal/imagegen"
	"github.com/tbourn/signal-relay/internal/notify"
	"github.com/tbourn/signal-relay/internal/observability"
	"github.com/tbourn/signal-relay/internal/pipeline"
	"github.com/tbourn/signal-relay/internal/render"
	"github.com/tbourn/signal-relay/internal/repo"
	"github.com/tbourn/signal-relay/internal/resolver"
	"github.com/tbourn/signal-relay/internal/services"
	"github.com/tbourn/signal-relay/internal/sysutil"
	"github.com/tbourn/signal-relay/internal/updates"
)

var version = "dev"

const shutdownTimeout = 20 * time.Second

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version, strconv.FormatInt(cfg.NodeID, 10))
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	var dbOpts []repo.Option
	if !cfg.OTEL.Enabled {
		dbOpts = append(dbOpts, repo.WithoutTracing())
	}
	if cfg.GinMode == gin.DebugMode {
		dbOpts = append(dbOpts, repo.WithQueryLog(logger.Warn))
	}
	db, err := repo.OpenSQLite(cfg.DBPath, dbOpts...)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		log.Fatal().Err(err).Int64("node_id", cfg.NodeID).Msg("snowflake node")
	}

	gate := dedup.New(cfg.Dedup.DerivedTTL, cfg.Dedup.ExternalTTL, dedup.WithSweepInterval(cfg.Dedup.SweepInterval))
	go gate.Run(ctx)

	catalog := render.MustDefaultCatalog()
	directory := resolver.New(cfg.Upstream.SocialAPI, cfg.Upstream.SocialAdminURL, cfg.Upstream.SocialBrand, cfg.Delivery.LookupTimeout)

	locales, err := services.NewLocaleService(cfg.Upstream.LocaleAPI, cfg.Delivery.LookupTimeout, cfg.Delivery.LocaleCacheTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("locale cache")
	}
	members, err := services.NewMemberCountService(db, cfg.Upstream.MemberCountTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("member count cache")
	}

	groups := services.NewGroupService(db)
	if ids, err := groups.ActiveChatIDs(ctx); err == nil {
		log.Info().Int("groups", len(ids)).Msg("tracked groups loaded")
	} else {
		log.Warn().Err(err).Msg("load tracked groups")
	}

	// Bot fleet.
	upd := &updates.Handlers{
		Groups:  groups,
		Verify:  services.NewVerifyService(db, directory, catalog, cfg.Upstream.SocialAdminURL, cfg.Delivery.LookupTimeout),
		Catalog: catalog,
	}
	var primaryID atomic.Int64
	var tasks []botmanager.Task
	if pending := services.NewPendingRelay(cfg.Upstream.PendingAPIURL, cfg.Upstream.PendingTargetChat, cfg.Delivery.LookupTimeout); pending.Enabled() {
		tasks = append(tasks, botmanager.Task{
			Name:     "pending-messages",
			Interval: cfg.Upstream.PendingInterval,
			Run: func(ctx context.Context, b *botmanager.Bot) error {
				if b.ID != primaryID.Load() {
					return nil
				}
				_, err := pending.Run(ctx, b.Session())
				return err
			},
		})
	}
	opener := botmanager.NotifyOpener(notify.Options{
		Endpoint:      cfg.Telegram.APIEndpoint,
		Proxy:         cfg.Telegram.Proxy,
		SendTimeout:   cfg.Delivery.SendTimeout,
		LookupTimeout: cfg.Delivery.LookupTimeout,
		SendRPS:       cfg.Bots.SendRPS,
		Retry: notify.RetryPolicy{
			MaxRetries: cfg.Delivery.Retries,
			Min:        cfg.Delivery.RetryDelay,
			Max:        8 * cfg.Delivery.RetryDelay,
			Factor:     2,
		},
	})
	bots := botmanager.New(botmanager.Config{
		MaxBots:           cfg.Bots.MaxBots,
		IdleTimeout:       cfg.Bots.IdleTimeout,
		IdleCheckInterval: cfg.Bots.IdleCheckInterval,
		HeartbeatInterval: cfg.Bots.HeartbeatInterval,
		PollTimeout:       cfg.Bots.PollTimeout,
	}, opener, botmanager.WithRouter(upd.Router()), botmanager.WithTasks(tasks...))

	if cfg.Telegram.Token != "" {
		reg, err := bots.Register(ctx, cfg.Telegram.Token, cfg.Telegram.DefaultBrand, cfg.Telegram.Proxy)
		if err != nil {
			log.Error().Err(err).Str("conflict_warning", reg.ConflictWarning).Msg("primary bot not started")
		} else {
			bots.SetPrimary(reg.BotID)
			primaryID.Store(reg.BotID)
		}
	}

	// Delivery.
	pipe := pipeline.New(pipeline.Deps{
		Dedup:    gate,
		Resolver: directory,
		Renderer: render.New(catalog),
		Senders: func(brand string) (pipeline.Sender, bool) {
			b, ok := bots.Sender(brand)
			if !ok {
				return nil, false
			}
			return b, true
		},
		Locales: locales,
		Images:  imagegen.New(cfg.Delivery.ImageDir, cfg.Delivery.LookupTimeout),
		DB:      db,
		Node:    node,
		Sink:    cfg.Sinks.SinkFor,
		Brand:   cfg.Telegram.DefaultBrand,
	})

	// HTTP.
	h := handlers.New(handlers.Deps{
		Events:  pipe,
		Bots:    bots,
		Members: members,
		Chat: func() (services.ChatAPI, bool) {
			b, ok := bots.Sender(cfg.Telegram.DefaultBrand)
			if !ok {
				return nil, false
			}
			return b.Session(), true
		},
		DB:           db,
		DefaultBrand: cfg.Telegram.DefaultBrand,
	})
	engine := gin.New()
	httpapi.RegisterRoutes(engine, h, gate.Seen, cfg)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	pipe.Close()
	bots.Shutdown()
	_ = locales.Close()
	_ = members.Close()
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("bye")
}
