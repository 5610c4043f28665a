package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/blatr/idealista-notify-bot/internal/application/lifecycle"
	"github.com/blatr/idealista-notify-bot/internal/application/notify"
	"github.com/blatr/idealista-notify-bot/internal/application/workflow"
	"github.com/blatr/idealista-notify-bot/internal/config"
	"github.com/blatr/idealista-notify-bot/internal/infrastructure/database"
	boardhandler "github.com/blatr/idealista-notify-bot/internal/interfaces/handlers/board"
	healthhandler "github.com/blatr/idealista-notify-bot/internal/interfaces/handlers/health"
	ingesthandler "github.com/blatr/idealista-notify-bot/internal/interfaces/handlers/ingest"
	"github.com/blatr/idealista-notify-bot/internal/middleware"
)

type gormDBPinger struct {
	db *gorm.DB
}

func (g *gormDBPinger) Ping() error {
	if g == nil || g.db == nil {
		return nil
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// BuildService assembles the lifecycle service shared by the HTTP surface and
// the queue consumer: the stage flow (plus any extra edges from config) and
// the Telegram notifier behind the Redis once-guard.
func BuildService(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*lifecycle.Service, error) {
	flow, err := workflow.Default().WithEdges(cfg.WorkflowExtraEdges)
	if err != nil {
		return nil, err
	}

	var notifier notify.Dispatcher = &notify.TelegramClient{
		Token:  cfg.TelegramBotToken,
		ChatID: cfg.TelegramChatID,
	}
	if rdb != nil {
		notifier = &notify.RedisGuard{Rdb: rdb, Next: notifier}
	}

	return &lifecycle.Service{DB: db, Flow: flow, Notifier: notifier}, nil
}

func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		DevPassword:    cfg.DevPassword,
	}))

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, nil, err
		}
		rdb = redis.NewClient(opts)
	}

	app.Use(middleware.HealthMarker(rdb))
	app.Use(middleware.ResponseFormatter())
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	hh := &healthhandler.Handlers{
		Rdb:            rdb,
		DB:             nil,
		HealthAdminKey: cfg.HealthAdminKey,
	}
	app.Get("/", hh.Dashboard)
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)

	var db *gorm.DB
	if cfg.DatabaseURL != "" {
		var errDB error
		db, errDB = database.Open(cfg.DatabaseURL)
		if errDB != nil {
			return nil, nil, nil, errDB
		}
		hh.DB = &gormDBPinger{db: db}
	}

	if db != nil {
		svc, err := BuildService(cfg, db, rdb)
		if err != nil {
			return nil, nil, nil, err
		}

		bh := &boardhandler.Handlers{Service: svc}
		ih := &ingesthandler.Handlers{Service: svc}

		api := app.Group("/api/v1")
		api.Get("/board", bh.GetBoard)
		api.Get("/board/:stage", bh.GetColumn)
		api.Post("/board/:stage/reorder", bh.ReorderColumn)
		api.Post("/listings", bh.CreateListing)
		api.Get("/listings/:id", bh.GetListing)
		api.Get("/listings/:id/events", bh.GetListingEvents)
		api.Patch("/listings/:id", bh.UpdateListing)
		api.Patch("/listings/:id/move", bh.MoveListing)
		api.Delete("/listings/:id", bh.ArchiveListing)
		api.Post("/ingest", ih.HandleIngest)
	}

	return app, db, rdb, nil
}
