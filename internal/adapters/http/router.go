package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/meshcall/internal/adapters/signal"
	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/config"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
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

// SetupRouter wires the relay endpoints. calls may be nil when history is disabled.
func SetupRouter(ctx context.Context, cfg *config.Config, hub *app.Hub, calls core.CallStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("MeshcallSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "adapters.http").Bool("history", calls != nil).Msg("router setup")

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "calls": len(hub.Topics.List())})
	})

	ctrl := signal.NewSignalWSController(hub, signal.Options{
		ReadLimit:    cfg.Signal.ReadLimit,
		PingPeriod:   cfg.Signal.PingPeriod,
		WriteWait:    cfg.Signal.WriteWait,
		SendBuffer:   cfg.Signal.SendBuffer,
		RateLimit:    cfg.Signal.RateLimit,
		RateInterval: cfg.Signal.RateInterval,
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/calls", func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.Topics.List())
	})

	api.GET("/calls/:id/members", func(c *gin.Context) {
		id, err := domain.ParseCallID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		members := hub.Members(id)
		if members == nil {
			members = []core.MemberDTO{}
		}
		c.JSON(http.StatusOK, members)
	})

	api.GET("/calls/:id", func(c *gin.Context) {
		if calls == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "call history disabled"})
			return
		}
		id, err := domain.ParseCallID(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		rec, err := calls.GetCall(c.Request.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, core.ErrCallNotFound) {
				status = http.StatusNotFound
			}
			log.Warn().Err(err).Str("module", "adapters.http").Str("call", string(id)).Msg("get call")
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	return r
}
