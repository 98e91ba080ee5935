package http

import (
	"context"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/Roulette/internal/app/call"
	"github.com/dkeye/Roulette/internal/app/orch"
	"github.com/dkeye/Roulette/internal/config"
	"github.com/dkeye/Roulette/internal/core"
	"github.com/dkeye/Roulette/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Controller is the set of intents the control surface drives.
type Controller interface {
	View() orch.View
	Subscribe() (<-chan orch.View, func())
	StartSearch(ctx context.Context, filter domain.Filter) error
	ScheduleSearch(filter domain.Filter) error
	CancelSearch(ctx context.Context) error
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	HangUp() error
	AnswerContinuation(yes bool) error
	SetMuted(kind core.MediaKind, muted bool) error
	SetSpeaker(on bool) error
	SetCamera(ctx context.Context, on bool) error
	LastSummary() (call.Summary, bool)
}

var _ Controller = (*orch.Orchestrator)(nil)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// RateLimitMiddleware rejects clients that exceed the limiter with 429.
func RateLimitMiddleware(rl *IntentRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.GetString("client_token")) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctl Controller, clk clock.Clock) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RouletteSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{ctl: ctl}
	api := r.Group("/api")

	api.GET("/state", h.state)
	api.GET("/filter", h.filter)
	api.GET("/call", h.summary)
	api.GET("/ws/state", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws state endpoint hit")
		streamViews(ctx, c, ctl)
	})

	intents := api.Group("", RateLimitMiddleware(NewIntentRateLimiter(clk, cfg.HTTP.RateLimit, cfg.HTTP.RateInterval)))
	intents.POST("/search", h.search)
	intents.POST("/search/schedule", h.schedule)
	intents.POST("/search/cancel", h.cancel)
	intents.POST("/match/accept", h.accept)
	intents.POST("/match/reject", h.reject)
	intents.POST("/call/hangup", h.hangUp)
	intents.POST("/call/continue", h.answer)
	intents.POST("/call/mute", h.mute)
	intents.POST("/call/speaker", h.speaker)
	intents.POST("/call/camera", h.camera)

	return r
}
