package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/wktk1187/dagitoru/internal/api"
	"github.com/wktk1187/dagitoru/internal/config"
	"github.com/wktk1187/dagitoru/internal/queue"
	"github.com/wktk1187/dagitoru/internal/redis"
	"github.com/wktk1187/dagitoru/internal/service/media"
	"github.com/wktk1187/dagitoru/internal/service/notion"
	"github.com/wktk1187/dagitoru/internal/service/slackapi"
	"github.com/wktk1187/dagitoru/internal/service/summarize"
	"github.com/wktk1187/dagitoru/internal/service/transcribe"
	"github.com/wktk1187/dagitoru/internal/storage"
	"github.com/wktk1187/dagitoru/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	cfgPath := os.Getenv("DAGITORU_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	dbType := os.Getenv("DAGITORU_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	logger.Info("opening database", zap.String("driver", dbType))
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		logger.Fatal("migrate database", zap.Error(err))
	}

	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("create redis client", zap.Error(err))
	}
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewJobStore(db, dbType)
	publisher := queue.NewPublisher(rdb, cfg.BasicConfig.QueueTopic, logger)
	consumer := queue.NewConsumer(rdb, cfg.BasicConfig.QueueTopic, logger)
	guard := worker.NewStageGuard(rdb, logger)

	slackClient := slackapi.New(cfg.Slack.BotToken, logger)

	var uploader media.Uploader
	if cfg.Storage.Bucket != "" {
		gcs, err := media.NewGCSUploader(ctx, cfg.Storage.Bucket, logger)
		if err != nil {
			logger.Fatal("create gcs uploader", zap.Error(err))
		}
		uploader = gcs
	} else {
		logger.Warn("gcs bucket not set, media extraction will fail until configured")
	}
	extractor := media.NewExtractor(uploader, cfg.BasicConfig.ScratchDir, os.Getenv("FFMPEG_PATH"), logger)

	transcriber, err := transcribe.NewCoordinator(ctx, cfg.Speech.LanguageCode,
		time.Duration(cfg.Speech.WaitTimeout)*time.Minute, logger)
	if err != nil {
		logger.Fatal("create speech client", zap.Error(err))
	}
	defer transcriber.Close()

	summarizer := summarize.NewService(ctx, cfg, logger)
	pages := notion.NewService(cfg.Notion.APIKey, cfg.Notion.DatabaseID, logger)

	finisher := worker.NewFinisher(store, summarizer, pages, slackClient, guard, logger)
	runner := worker.NewRunner(store, extractor, transcriber, slackClient, guard, publisher,
		finisher, cfg.BasicConfig.CallbackURL,
		time.Duration(cfg.BasicConfig.TextPendingWindow)*time.Minute, logger)

	dispatcher := worker.NewDispatcher(consumer,
		cfg.BasicConfig.MinWorkers, cfg.BasicConfig.MaxWorkers,
		time.Duration(cfg.BasicConfig.WorkerIdleTimeout)*time.Minute, runner, logger)
	go dispatcher.Run(ctx)

	handlers := api.NewHandler(slackClient, store, publisher, finisher, slackClient, cfg.Slack.SigningSecret, logger)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	logger.Info("server starting", zap.String("addr", cfg.BasicConfig.ServerAddress))
	if err := router.Run(cfg.BasicConfig.ServerAddress); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
