package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liliang-cn/crawldesk/internal/api"
	"github.com/liliang-cn/crawldesk/internal/channel"
	"github.com/liliang-cn/crawldesk/internal/client"
	"github.com/liliang-cn/crawldesk/internal/config"
	"github.com/liliang-cn/crawldesk/internal/repository"
	"github.com/liliang-cn/crawldesk/internal/service"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	opts := service.Options{
		Identity: service.Identity{
			UserID:   cfg.Identity.UserID,
			UserName: cfg.Identity.UserName,
		},
		ChatDialer:     &channel.WebSocketDialer{URL: cfg.Channels.ChatURL, Header: authHeader(cfg.Channels.Token)},
		JobsDialer:     &channel.WebSocketDialer{URL: cfg.Channels.JobsURL, Header: authHeader(cfg.Channels.Token)},
		Reconnect:      cfg.Channels.Reconnect,
		InitialBackoff: cfg.Channels.InitialBackoff,
		MaxBackoff:     cfg.Channels.MaxBackoff,
		PageSize:       cfg.Services.PageSize,
		MaxPages:       cfg.Services.MaxPages,
		AssignmentID:   cfg.Session.AssignmentID,
		GroupID:        cfg.Session.GroupID,
		Logger:         logger,
	}
	if cfg.Services.HistoryURL != "" {
		opts.History = client.NewHistoryClient(cfg.Services.HistoryURL, cfg.Identity.UserID, cfg.Services.Timeout, logger)
	}
	if cfg.Services.ResultsURL != "" {
		opts.Results = client.NewResultsClient(cfg.Services.ResultsURL, cfg.Services.Timeout, logger)
	}

	// Initialize the local cache
	var adminService *service.AdminService
	if cfg.Cache.Enabled {
		db, err := repository.NewDB(cfg.Cache.Path)
		if err != nil {
			logger.Fatal("Failed to initialize cache database", zap.Error(err))
		}
		defer db.Close()

		conversationRepo := repository.NewConversationRepository(db)
		resultRepo := repository.NewResultRepository(db)
		opts.Messages = conversationRepo
		opts.Cache = resultRepo
		adminService = service.NewAdminService(conversationRepo, resultRepo, logger)
	}

	session := service.NewSession(opts)
	defer session.Dispose()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 10*time.Second)
	conversationID, err := session.Start(startCtx, cfg.Session.ConversationID)
	cancelStart()
	if err != nil {
		logger.Fatal("Failed to start session", zap.Error(err))
	}

	// Setup router
	router := api.SetupRouter(session, adminService, api.RouterConfig{
		APIKey:       cfg.Admin.APIKey,
		AllowOrigins: cfg.Server.AllowedOrigins,
		Logger:       logger,
	})

	// WriteTimeout stays zero so event streams stay open
	srv := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting crawldesk server",
			zap.String("address", cfg.Address()),
			zap.String("conversation_id", conversationID),
			zap.String("user_id", cfg.Identity.UserID),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Disposing first ends open event streams
	session.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func authHeader(token string) http.Header {
	if token == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + token}}
}
