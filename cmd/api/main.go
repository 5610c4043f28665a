package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/blatr/idealista-notify-bot/internal/config"
	"github.com/blatr/idealista-notify-bot/internal/infrastructure/database"
	"github.com/blatr/idealista-notify-bot/internal/interfaces/rabbitmq"
	"github.com/blatr/idealista-notify-bot/internal/interfaces/router"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load: " + err.Error())
	}

	app, db, rdb, err := router.CreateApp(cfg)
	if err != nil {
		panic("app create: " + err.Error())
	}

	// Verify connections before printing (Express-style startup logs)
	if db != nil {
		sqlDB, err := db.DB()
		if err != nil {
			panic("Postgres: get DB: " + err.Error())
		}
		if err := sqlDB.Ping(); err != nil {
			panic("Postgres connection failed: " + err.Error())
		}
		if err := database.AutoMigrate(db); err != nil {
			panic("Postgres migrate: " + err.Error())
		}
		fmt.Println("Postgres connected")
	}
	if rdb != nil {
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			panic("Redis connection failed: " + err.Error())
		}
		fmt.Println("Redis connected")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var consumer *rabbitmq.Consumer
	if cfg.RabbitMQURL != "" && db != nil {
		svc, err := router.BuildService(cfg, db, rdb)
		if err != nil {
			panic("service build: " + err.Error())
		}
		consumer, err = rabbitmq.NewConsumer(rabbitmq.ConsumerConfig{
			URL:   cfg.RabbitMQURL,
			Queue: cfg.IngestQueue,
			Tag:   "idealista-notify-bot",
		}, svc)
		if err != nil {
			panic("RabbitMQ connection failed: " + err.Error())
		}
		fmt.Println("RabbitMQ connected")

		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ingest consumer stopped")
				stop()
			}
		}()
	}

	fmt.Printf("Server running at http://localhost:%s\n", cfg.Port)
	fmt.Printf("Health check: http://localhost:%s/health/json\n", cfg.Port)
	fmt.Println("---")

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()

	if consumer != nil {
		consumer.Close()
	}
	if err := app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
