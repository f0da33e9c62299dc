package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/myrightwindow/rightwindow/backend"
	"github.com/myrightwindow/rightwindow/config"
	"github.com/myrightwindow/rightwindow/controllers"
	"github.com/myrightwindow/rightwindow/middleware"
	"github.com/myrightwindow/rightwindow/services"
	"github.com/myrightwindow/rightwindow/utils"
)

// Deps are the long-lived components the HTTP layer is built on.
type Deps struct {
	Client       backend.Client
	Gate         *services.AuthGate
	Sessions     *services.SessionManager
	Posts        *services.PostService
	Settings     *services.SettingsService
	PageViews    *middleware.PageViewCounter
	LoginLimiter *middleware.RateLimiter
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// access log goes to its own rolling file when one is configured
	accessLog := utils.Logger
	if cfg.GinPath != "" {
		if gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress); err == nil {
			accessLog = gl
		} else {
			utils.Sugar.Warnw("access log unavailable, using app logger", "path", cfg.GinPath, "error", err)
		}
	}
	r.Use(utils.Ginzap(accessLog, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(accessLog, false))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Confirm-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	if d.PageViews != nil {
		r.Use(d.PageViews.Recorder())
	}

	r.Static("/static", "./static")
	if cfg.BackendDriver == config.BackendDirect {
		r.Static("/storage", cfg.StorageDir)
	}

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok", "backend": cfg.BackendDriver})
	})

	authController := controllers.NewAuthController(d.Gate, cfg)
	postController := controllers.NewPostController(d.Client)
	adminPostController := controllers.NewAdminPostController(d.Posts, d.Sessions, cfg)
	settingsController := controllers.NewSettingsController(d.Settings)
	statsController := controllers.NewStatsController(d.Posts, d.PageViews)
	configController := controllers.NewConfigController()

	sessionRequired := middleware.SessionRequired(d.Sessions, cfg.SessionCookieName)

	api := r.Group("/api/v1")
	api.GET("/posts", postController.ListPosts)
	api.GET("/posts/:slug", postController.GetPost)
	api.GET("/config/site", configController.GetSite)

	authGroup := api.Group("/auth")
	if d.LoginLimiter != nil {
		authGroup.Use(d.LoginLimiter.Middleware())
	}
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", sessionRequired, authController.Logout)
	authGroup.GET("/me", sessionRequired, authController.Me)

	admin := api.Group("/admin")
	admin.Use(sessionRequired, middleware.AdminRequired(cfg.AdminRole))
	admin.GET("/posts", adminPostController.ListPosts)
	admin.GET("/posts/stream", adminPostController.Stream)
	admin.PATCH("/posts/:id/publish", adminPostController.TogglePublish)
	admin.POST("/posts/:id/delete-request", adminPostController.RequestDelete)
	admin.DELETE("/posts/:id/delete-request", adminPostController.CancelDelete)
	admin.DELETE("/posts/:id", adminPostController.DeletePost)
	admin.GET("/settings", settingsController.GetSettings)
	admin.PATCH("/settings", settingsController.UpdateSettings)
	admin.GET("/stats", statsController.GetStats)

	r.NoRoute(func(ctx *gin.Context) {
		path := ctx.Request.URL.Path
		if strings.HasPrefix(path, "/api/") {
			utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
			return
		}
		if strings.HasPrefix(path, "/static/") || strings.HasPrefix(path, "/storage/") {
			utils.Error(ctx, http.StatusNotFound, 40401, "asset not found")
			return
		}
		// every other path belongs to the single-page app
		ctx.Status(http.StatusOK)
		ctx.File("./static/index.html")
	})

	return r
}
