// Package main runs the notetaker HTTP server: provider webhooks, the bots and meetings API, the
// status websocket and the bot scheduler.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notetaker/backend/config"
	"github.com/notetaker/backend/internal/app"
	"github.com/notetaker/backend/internal/auth"
	"github.com/notetaker/backend/internal/bots"
	"github.com/notetaker/backend/internal/calendar"
	"github.com/notetaker/backend/internal/meetings"
	"github.com/notetaker/backend/internal/middleware"
	"github.com/notetaker/backend/internal/realtime"
	"github.com/notetaker/backend/pkg/response"
)

func main() {
	logger := app.NewLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	a, err := app.Open(ctx, cfg, app.Options{Migrate: true}, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	defer a.Close()

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	hub := realtime.NewHub(logger, a.PubSub)

	scheduler := bots.NewScheduler(a.Manager, a.SchedulerOptions(), logger.Named("scheduler"))
	botHandler := bots.NewHandler(a.Manager, scheduler, a.Meetings, logger)
	webhookHandler := bots.NewWebhookHandler(a.Manager, cfg.Recall.WebhookSecret, a.Metrics, logger.Named("webhook"))

	// a nil *storage.S3 must not become a non-nil interface
	var signer meetings.TranscriptSigner
	if a.Archive != nil {
		signer = a.Archive
	}
	meetingHandler := meetings.NewHandler(a.Meetings, a.Manager, signer, logger)

	calendarService := calendar.NewService(calendar.NewAccountRepository(a.Pool), a.Meetings, calendar.Options{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		CalendarID:   cfg.Google.CalendarID,
		SyncDays:     cfg.Google.SyncDays,
	}, logger.Named("calendar"))
	calendarHandler := calendar.NewHandler(calendarService, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		if err := a.Check(c.Request.Context()); err != nil {
			response.ServiceUnavailable(c, err.Error())
			return
		}
		response.OK(c, gin.H{"status": "ok", "scheduler_running": scheduler.Running()})
	})
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))
	}

	// Provider webhooks (no JWT; signature verified when a secret is configured)
	router.POST("/webhooks/recall", webhookHandler.Receive)
	router.GET("/webhooks/recall", webhookHandler.Status)

	// WebSocket (token in query; no Authorization header required)
	router.GET("/ws", realtime.ServeWs(hub, logger, jwtService.UserID))

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Bots
		api.GET("/bots/config", botHandler.Config)
		api.POST("/bots/init", botHandler.Init)
		api.POST("/bots/stop", botHandler.Stop)
		api.POST("/bots/poll", botHandler.Poll)

		// Meetings
		api.GET("/meetings", meetingHandler.List)
		api.POST("/meetings/sync", calendarHandler.Sync)
		api.POST("/meetings/disable-all-notetakers", meetingHandler.DisableAll)
		api.GET("/meetings/:id", meetingHandler.Get)
		api.PATCH("/meetings/:id/notetaker", meetingHandler.SetNotetaker)
		api.GET("/meetings/:id/transcript-url", meetingHandler.TranscriptURL)
		api.POST("/meetings/:id/process-transcript", botHandler.ProcessTranscript)
		api.POST("/meetings/:id/retry-transcript", botHandler.RetryTranscript)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	defer schedulerCancel()
	if cfg.Scheduler.AutoStart {
		scheduler.Start(schedulerCtx)
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	scheduler.Stop()
	schedulerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
