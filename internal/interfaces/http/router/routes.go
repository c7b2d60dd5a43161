package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tradejournal/backend/internal/infrastructure/logger"
	"github.com/tradejournal/backend/internal/interfaces/http/handler"
	"github.com/tradejournal/backend/internal/interfaces/http/middleware"
	"go.uber.org/zap"
)

// EngineConfig configures the middleware stack shared by both services
type EngineConfig struct {
	ServiceName    string
	TracingEnabled bool
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	TrustedProxies []string
}

// NewEngine builds a gin engine with tracing, request logging, panic
// recovery, security headers, a body limit and a request deadline.
func NewEngine(cfg EngineConfig, log *zap.Logger) (*gin.Engine, error) {
	middleware.SetupValidator()

	engine := gin.New()
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	engine.Use(
		middleware.Tracing(cfg.ServiceName, cfg.TracingEnabled),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.SpanDecorator(),
		middleware.Secure(),
		middleware.Timeout(cfg.RequestTimeout),
	)
	if cfg.MaxBodyBytes > 0 {
		engine.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	}
	return engine, nil
}

// IdentityHandlers are the handlers served by the identity process
type IdentityHandlers struct {
	System *handler.SystemHandler
	Users  *handler.UserHandler
	Outbox *handler.OutboxHandler
}

// RegisterIdentityRoutes mounts the user commands and outbox inspection endpoints
func RegisterIdentityRoutes(engine *gin.Engine, h IdentityHandlers) {
	engine.GET("/healthz", h.System.Healthz)

	users := NewDomainGroup("users", "/users").
		POST("", h.Users.Create).
		GET("/:id", h.Users.GetByID).
		PUT("/:id", h.Users.Rename).
		DELETE("/:id", h.Users.Delete)

	system := NewDomainGroup("system", "/system").
		GET("/info", h.System.GetSystemInfo)
	system.Group("outbox", "/outbox").
		GET("/stats", h.Outbox.GetStats).
		GET("/:id", h.Outbox.GetRecord)

	NewRouter(engine).Register(users, system).Setup()
}

// JournalHandlers are the handlers served by the journal process
type JournalHandlers struct {
	System      *handler.SystemHandler
	DeadLetters *handler.DeadLetterHandler
}

// RegisterJournalRoutes mounts the dead letter administration endpoints
func RegisterJournalRoutes(engine *gin.Engine, h JournalHandlers) {
	engine.GET("/healthz", h.System.Healthz)

	system := NewDomainGroup("system", "/system").
		GET("/info", h.System.GetSystemInfo)
	system.Group("inbox", "/inbox/dead").
		GET("", h.DeadLetters.List).
		GET("/:id", h.DeadLetters.Get).
		POST("/:id/replay", h.DeadLetters.Replay)

	NewRouter(engine).Register(system).Setup()
}
