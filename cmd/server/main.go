package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inboxtriage/internal/config"
	"inboxtriage/internal/db"
	"inboxtriage/internal/gmail"
	"inboxtriage/internal/handler"
	"inboxtriage/internal/httpserver"
	"inboxtriage/internal/repository"
	"inboxtriage/internal/service/auth"
	"inboxtriage/internal/service/category"
	"inboxtriage/internal/service/classify"
	"inboxtriage/internal/service/email"
	"inboxtriage/internal/service/ingest"
	"inboxtriage/internal/service/scheduler"
	"inboxtriage/internal/service/unsubscribe"
	pkgdb "inboxtriage/pkg/db"
	pkglogger "inboxtriage/pkg/logger"
	pkgmq "inboxtriage/pkg/mq"
	"inboxtriage/pkg/otel"
	pkgredis "inboxtriage/pkg/redis"
	"inboxtriage/pkg/util"
)

var version = "dev"

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := pkglogger.NewLogger(cfg.Server.Mode)
	defer logger.Sync()
	gin.SetMode(cfg.Server.Mode)

	shutdownOtel, err := otel.Init(otel.Config{
		ServiceName:    cfg.Otel.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Otel.Endpoint,
		Enabled:        cfg.Otel.Enabled,
		SampleRatio:    cfg.Otel.SampleRatio,
	}, logger)
	if err != nil {
		logger.Warn("OpenTelemetry initialization failed, continuing without tracing", zap.Error(err))
		shutdownOtel = func() {}
	}

	// Init DB
	dbConn, err := pkgdb.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	if err := db.Migrate(context.Background(), dbConn, logger); err != nil {
		logger.Fatal("Schema migration failed", zap.Error(err))
	}

	// Redis is optional; without it the sync lock is process-local.
	rdb, err := pkgredis.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, sync lock is process-local", zap.Error(err))
		rdb = nil
	}

	// MQ is optional; events are dropped when it is not configured.
	var publisher pkgmq.EventPublisher
	var mqPublisher *pkgmq.Publisher
	if cfg.MQ.URL != "" {
		mqPublisher, err = pkgmq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			logger.Warn("MQ publisher unavailable, events disabled", zap.Error(err))
		} else {
			publisher = mqPublisher
		}
	}

	// Repositories
	userRepo := repository.NewUserRepository(dbConn)
	emailRepo := repository.NewEmailRepository(dbConn)
	categoryRepo := repository.NewCategoryRepository(dbConn)

	// Providers
	oauthCfg := gmail.OAuthConfig(cfg.Google)
	mailbox := gmail.NewClient(oauthCfg, logger)
	classifier := classify.NewService(classify.NewOpenAICompleter(cfg.OpenAI), logger)
	extractor := unsubscribe.NewExtractor(classifier, logger)
	agent := unsubscribe.NewAgent(unsubscribe.ChromeLauncher(cfg.Browser), cfg.Browser, logger)

	// Services
	syncLock := util.NewSyncLock(rdb, cfg.Sync.LockTTL, logger)
	ingestService := ingest.NewService(mailbox, classifier, emailRepo, categoryRepo, userRepo, syncLock, publisher, cfg.Sync, logger)
	emailService := email.NewService(emailRepo, categoryRepo, userRepo, mailbox, extractor, agent, publisher, logger)
	categoryService := category.NewService(categoryRepo, emailRepo, logger)
	authService := auth.NewService(oauthCfg, userRepo, cfg.JWT.Secret, cfg.JWT.TTL, logger)

	// Handlers
	router := httpserver.NewRouter(httpserver.Handlers{
		Auth:       handler.NewAuthHandler(authService, cfg.FrontendURL, strings.HasPrefix(cfg.FrontendURL, "https://"), logger),
		Email:      handler.NewEmailHandler(emailService, ingestService, userRepo, cfg.Sync.ManualQuery, cfg.Sync.ManualMax, logger),
		Category:   handler.NewCategoryHandler(categoryService, logger),
		JWTSecret:  cfg.JWT.Secret,
		CORSOrigin: cfg.FrontendURL,
		DB:         dbConn,
		Logger:     logger,
	})

	sched := scheduler.New(userRepo, ingestService, cfg.Sync, logger)
	sched.Start(context.Background())

	srv := router.Server(cfg.Server.Port)
	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server start failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	// 关闭 HTTP 服务器
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	// 停止定时同步
	logger.Info("Stopping scheduler...")
	sched.Stop()

	logger.Info("Closing browser...")
	if err := agent.Shutdown(); err != nil {
		logger.Warn("Browser shutdown failed", zap.Error(err))
	}

	if mqPublisher != nil {
		mqPublisher.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	// 关闭数据库连接
	dbConn.Close()
	shutdownOtel()

	logger.Info("Shutdown complete")
}
