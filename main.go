package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"os/signal"
	"syscall"
	"time"

	"uplink-service/account"
	"uplink-service/chat"
	"uplink-service/config"
	"uplink-service/controller"
	"uplink-service/database"
	"uplink-service/event"
	"uplink-service/event/listener"
	"uplink-service/logger"
	"uplink-service/presence"
	"uplink-service/router"
	"uplink-service/socketio"
	"uplink-service/storage"
	"uplink-service/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}

	log, err := logger.New(settings.Server.AppName, settings.LogLevel, settings.Development())
	if err != nil {
		stdlog.Fatalf("build logger: %v", err)
	}
	defer log.Sync()

	if err := run(settings, log); err != nil {
		log.Fatal("service stopped", zap.Error(err))
	}
}

func run(settings *config.Settings, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	db, err := database.PostgresConnect(settings.Postgres, log)
	if err != nil {
		return err
	}

	rdb, err := database.RedisConnect(ctx, settings.Redis, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	enforcer, err := database.Casbin(db)
	if err != nil {
		return err
	}

	var journal *event.Journal
	if settings.Event.Mode != event.ModeDisable {
		if journal, err = event.OpenJournal(settings.Event.JournalFile); err != nil {
			return err
		}
		defer journal.Close()
	}

	rabbit, err := event.RabbitMQConnect(settings.RabbitMQ, journal, log)
	if err != nil {
		return err
	}
	defer rabbit.Close()

	if settings.Event.Mode == event.ModeReplay {
		n, err := journal.Replay(ctx, rabbit.Republish)
		if err != nil {
			return fmt.Errorf("replay journal: %w", err)
		}
		log.Info("journal replayed", zap.Int("changes", n))
	}

	issuer := utils.NewTokenIssuer(settings.JWT)
	chats := chat.NewService(db, rabbit, log, settings.Chat.GeneralGroup)
	accounts := account.NewService(db,
		account.NewRedisTokenStore(rdb.Client(database.RedisSessions)),
		issuer, chats, rabbit, log, settings.OTP.Issuer)

	if err := accounts.Bootstrap(ctx, settings.Admin.Email, settings.Admin.Password); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	store, err := storage.New(ctx, settings.Storage, log)
	if err != nil {
		log.Warn("object storage disabled", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StrictRouting:         true,
		AppName:               settings.Server.AppName,
		BodyLimit:             int(settings.Storage.MaxUploadBytes) + 1024*1024,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	sock := socketio.New(ctx, issuer, rdb.Client(database.RedisAdapter), settings.Development(), log)
	sock.Mount(app)

	tracker := presence.NewTracker(presence.NewRedisStore(rdb.Client(database.RedisSessions)), accounts, sock, log)
	router.Socket(sock, tracker, settings.Chat.TypingRate, log)

	checks := []controller.Check{
		{Name: "postgres", Ping: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Client(database.RedisSessions).Ping(ctx).Err()
		}},
	}
	router.Rest(app, controller.New(accounts, chats, store, checks, log), issuer, accounts, enforcer)

	relay := listener.NewRelay(rabbit, chats, sock, log)
	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("change relay stopped", zap.Error(err))
			stop()
		}
	}()

	go func() {
		log.Info("listening", zap.String("port", settings.Server.Port))
		if err := app.Listen(":" + settings.Server.Port); err != nil {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sock.Close()
	return app.ShutdownWithTimeout(10 * time.Second)
}
