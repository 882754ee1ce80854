package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inboxvetter/internal/handler"
	"inboxvetter/internal/repository"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	authHandler *handler.AuthHandler,
	vetterHandler *handler.VetterHandler,
	reportHandler *handler.ReportHandler,
	settingsHandler *handler.SettingsHandler,
	googleHandler *handler.GoogleHandler,
	adminHandler *handler.AdminHandler,
	users *repository.UserRepository,
	jwtSecret string,
	db *pgxpool.Pool,
) *Router {
	r := gin.Default()
	r.Use(TraceMiddleware())
	r.Use(MetricsMiddleware())

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)
	r.GET("/google/callback", googleHandler.Callback)

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.GET("/vetter", vetterHandler.GetState)
		auth.POST("/vetter/start", vetterHandler.Start)
		auth.POST("/vetter/schedule", vetterHandler.Schedule)
		auth.DELETE("/vetter/schedule", vetterHandler.Unschedule)

		auth.GET("/reports", reportHandler.List)
		auth.GET("/reports/:id", reportHandler.Get)
		auth.GET("/reports/:id/html", reportHandler.GetHTML)

		auth.GET("/settings", settingsHandler.Get)
		auth.PUT("/settings", settingsHandler.Put)

		auth.GET("/google/connect", googleHandler.Connect)
		auth.POST("/google/disconnect", googleHandler.Disconnect)

		admin := auth.Group("/admin")
		admin.Use(RequireAdmin(users))
		{
			admin.GET("/users", adminHandler.ListUsers)
			admin.POST("/subscriptions", adminHandler.UpsertSubscription)
		}
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(":" + port)
}
