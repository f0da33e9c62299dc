package main

import (
	"context"
	"time"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/middleware"
	"github.com/myrightwindow/rightwindow/routes"
	"github.com/myrightwindow/rightwindow/services"
	"github.com/myrightwindow/rightwindow/utils"
)

func main() {
	cfg := config.Load()

	if err := utils.InitLogger(cfg); err != nil {
		panic(err)
	}
	defer func() { _ = utils.Logger.Sync() }()

	client, err := backend.FromConfig(cfg)
	if err != nil {
		utils.Sugar.Fatalf("backend init failed: %v", err)
	}

	rc := utils.GetRedis()
	store := services.NewSessionStore(rc)
	sessions := services.NewSessionManager(client, store, time.Duration(cfg.SessionTTLHours)*time.Hour)
	posts := services.NewPostService(client, cfg)
	pageViews := middleware.NewPageViewCounter(rc)
	loginLimiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	r := routes.SetupRouter(routes.Deps{
		Client:       client,
		Gate:         services.NewAuthGate(client, sessions, cfg),
		Sessions:     sessions,
		Posts:        posts,
		Settings:     services.NewSettingsService(client),
		PageViews:    pageViews,
		LoginLimiter: loginLimiter,
	})

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	sweepers := []utils.Sweeper{loginLimiter.Sweep, pageViews.Sweep}
	if mem, ok := store.(*services.MemorySessionStore); ok {
		sweepers = append(sweepers, mem.Sweep)
	}
	utils.StartExpirySweeper(sweepCtx, 5*time.Minute, sweepers...)

	utils.Sugar.Infow("starting server", "port", cfg.AppPort, "backend", cfg.BackendDriver, "redis", rc != nil)
	err = utils.GraceServer(":"+cfg.AppPort, r, func(context.Context) {
		stopSweeper()
		utils.CloseRedis()
	})
	if err != nil {
		utils.Sugar.Fatalf("server stopped with error: %v", err)
	}
}
