package app

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rakshanetra/core/internal/middleware"
	"github.com/rakshanetra/core/internal/modules/access"
	"github.com/rakshanetra/core/internal/modules/account"
	"github.com/rakshanetra/core/internal/modules/admin"
	"github.com/rakshanetra/core/internal/modules/authz"
	"github.com/rakshanetra/core/internal/modules/gate"
	"github.com/rakshanetra/core/internal/modules/gateway"
	"github.com/rakshanetra/core/internal/modules/storage/backup"
	"github.com/rakshanetra/core/internal/modules/telemetry"
	"github.com/rakshanetra/core/internal/modules/token"
	"github.com/rakshanetra/core/internal/pkg/bark"
	"github.com/rakshanetra/core/internal/pkg/metrics"
	pkgredis "github.com/rakshanetra/core/internal/pkg/redis"
	"github.com/rakshanetra/core/internal/pkg/response"
)

func (a *App) registerRoutes(rc *pkgredis.Client, az *authz.Client, tokens *token.Service,
	tel *telemetry.Service, accounts *account.Service, gates *gate.Manager,
	adminSvc *admin.Service, backupSvc *backup.Service) {

	barkSvc := bark.New(func() (string, string, string) {
		return a.cfg.Bark.Key, a.cfg.Bark.ServerURL, a.cfg.Bark.Title
	})

	a.router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"name":   "rakshanetra-core",
			"uptime": time.Since(processStart).Truncate(time.Second).String(),
		})
	})
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	a.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	gateway.RegisterRoutes(&a.router.RouterGroup, a.hub)

	api := a.router.Group("/api/v2")
	api.Use(middleware.RateLimit(rc.Raw(), barkSvc))
	api.Use(middleware.Idempotence(rc.Raw()))

	accountHandler := account.NewHandler(accounts)
	authPublic := api.Group("/auth")
	authAuthed := api.Group("/auth", middleware.Auth(a.db))
	accountHandler.Register(authPublic, authAuthed)

	accessHandler := access.NewHandler(admin.NewMirror(a.db), az, tokens, gates, tel, accounts, a.cfg.SensorKey, a.logger)
	accessGroup := api.Group("/access", middleware.Auth(a.db))
	ingestGroup := api.Group("/telemetry")
	accessHandler.Register(accessGroup, ingestGroup)

	adminGroup := api.Group("/admin", middleware.Auth(a.db), middleware.AdminOnly())
	admin.NewHandler(adminSvc).Register(adminGroup)
	backup.NewHandler(backupSvc).Register(adminGroup.Group("/backup"))
	adminGroup.GET("/cron", func(c *gin.Context) {
		response.OK(c, a.sched.List())
	})
	adminGroup.POST("/cron/:name/run", func(c *gin.Context) {
		if err := a.sched.Run(c.Request.Context(), c.Param("name")); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.NoContent(c)
	})

	a.router.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	a.router.NoMethod(func(c *gin.Context) {
		response.NotFound(c)
	})
}

var processStart = time.Now()
