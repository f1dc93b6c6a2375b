package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rakshanetra/core/internal/config"
	"github.com/rakshanetra/core/internal/database"
	"github.com/rakshanetra/core/internal/middleware"
	"github.com/rakshanetra/core/internal/models"
	"github.com/rakshanetra/core/internal/modules/account"
	"github.com/rakshanetra/core/internal/modules/admin"
	"github.com/rakshanetra/core/internal/modules/authz"
	"github.com/rakshanetra/core/internal/modules/feed"
	"github.com/rakshanetra/core/internal/modules/gate"
	"github.com/rakshanetra/core/internal/modules/gateway"
	"github.com/rakshanetra/core/internal/modules/storage/backup"
	"github.com/rakshanetra/core/internal/modules/telemetry"
	"github.com/rakshanetra/core/internal/modules/token"
	pkgcron "github.com/rakshanetra/core/internal/pkg/cron"
	jwtpkg "github.com/rakshanetra/core/internal/pkg/jwt"
	pkgredis "github.com/rakshanetra/core/internal/pkg/redis"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	logger *zap.Logger
	cancel context.CancelFunc

	hub    *gateway.Hub
	gates  *gate.Manager
	sched  *pkgcron.Scheduler
	admin  *admin.Service
	backup *backup.Service
}

// New initializes the application: config, database, Redis, services,
// routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if secret := strings.TrimSpace(cfg.JWTSecret); secret != "" {
		jwtpkg.SetSecret(secret)
	} else {
		logger.Warn("jwt_secret is empty, using built-in default secret")
	}

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(buildCORSConfig(cfg)))

	ctx, cancel := context.WithCancel(context.Background())

	// Domain services.
	az := authz.New(cfg.AuthService.URL, time.Duration(cfg.AuthService.TimeoutSeconds)*time.Second, logger)
	tokens := token.NewService(db, rc, logger)
	tel := telemetry.NewService(rc, logger)
	subscriber := feed.NewSubscriber(feed.NewRedisSource(rc, logger), logger, feed.Options{
		GraceWindow: time.Duration(cfg.Gate.GraceWindowSeconds) * time.Second,
	})
	adminSvc := admin.NewService(az, tokens, admin.NewMirror(db), logger)
	accounts := account.NewService(db, logger)
	backupSvc := backup.NewService(db, cfg.Backup, logger)

	hub := gateway.NewHub(rc, logger,
		func(rawToken string) bool {
			claims, err := middleware.ValidateTokenClaims(db, rawToken)
			if err != nil {
				return false
			}
			u, err := accounts.ByID(context.Background(), claims.UserID)
			return err == nil && u.Role == models.RoleAdmin
		},
		func(rawToken string) (string, error) {
			claims, err := middleware.ValidateTokenClaims(db, rawToken)
			if err != nil {
				return "", err
			}
			u, err := accounts.ByID(context.Background(), claims.UserID)
			if err != nil {
				return "", err
			}
			return u.WalletAddress, nil
		},
		func(principal, resource string, tokenID int64) bool {
			t, err := tokens.ByTokenID(context.Background(), tokenID)
			if err != nil || t.UserAddress != principal || t.Resource != resource {
				return false
			}
			return token.Resolve(t, time.Now(), nil).Valid
		},
	)
	go hub.Run(ctx)

	gates := gate.NewManager(gate.Deps{
		Tokens:  tokens,
		Feed:    subscriber,
		Streams: tel,
		Cache:   gate.NewRedisCache(rc),
		Logger:  logger,
		OnNotice: func(principal string, n gate.Notice) {
			hub.NotifyPrincipal(principal, "gate_notice", n)
			hub.BroadcastAdmin("gate_notice", n)
		},
	}, gate.Config{
		NoAccessWait: time.Duration(cfg.Gate.NoAccessWaitSeconds) * time.Second,
	})

	if err := accounts.EnsureAdmin(ctx, cfg.Admin.Username, cfg.Admin.Password); err != nil {
		logger.Warn("seed admin account", zap.Error(err))
	}
	if err := adminSvc.Refresh(ctx); err != nil {
		logger.Warn("initial token view load", zap.Error(err))
	}

	sched := pkgcron.New()
	registerCronJobs(sched, db, cfg, logger, tokens, adminSvc, backupSvc)
	go sched.Start(ctx)

	app := &App{
		cfg:    cfg,
		router: router,
		db:     db,
		logger: logger,
		cancel: cancel,
		hub:    hub,
		gates:  gates,
		sched:  sched,
		admin:  adminSvc,
		backup: backupSvc,
	}
	app.registerRoutes(rc, az, tokens, tel, accounts, gates, adminSvc, backupSvc)
	return app, nil
}

func buildCORSConfig(cfg *config.AppConfig) cors.Config {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Sensor-Key"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		patterns := cfg.AllowedOrigins
		corsConfig.AllowOriginFunc = func(origin string) bool {
			host := extractOriginHost(origin)
			for _, pattern := range patterns {
				if matchOriginPattern(pattern, host) {
					return true
				}
			}
			return false
		}
	} else {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	}
	return corsConfig
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background goroutines and tears down every gate session.
func (a *App) Shutdown() {
	a.gates.TeardownAll()
	a.cancel()
}
