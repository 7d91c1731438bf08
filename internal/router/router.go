package router // router wires handlers and middleware onto the echo instance

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/access"
	"github.com/iliyamo/hub-lending/internal/config"
	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/handler"
	"github.com/iliyamo/hub-lending/internal/middleware"
)

// Handlers bundles every handler the API serves.
type Handlers struct {
	Public   *handler.PublicHandler
	Borrower *handler.BorrowerHandler
	Steward  *handler.StewardHandler
	Admin    *handler.AdminHandler
}

// Options carries the middleware settings.
type Options struct {
	JWTSecret string
	RateLimit config.RateLimitConfig
	Cache     config.CacheConfig
	Redis     *redis.Client // nil disables rate limiting and caching
	Log       *zap.Logger
}

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, db *database.DB) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterPublic registers the catalogue behind the Redis response cache.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, opts Options) {
	g := e.Group("/v1", middleware.NewRedisCache(opts.Cache, opts.Redis, opts.Log))
	g.GET("/hubs", p.ListHubs)
	g.GET("/hubs/:id/items", p.ListHubItems)
	g.GET("/items/:id", p.GetItem)
}

// RegisterBorrower registers borrower endpoints.  All require a valid JWT
// with the BORROWER role and share one token bucket per user and route.
func RegisterBorrower(e *echo.Echo, h *handler.BorrowerHandler, opts Options) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(opts.JWTSecret),
		middleware.RequireRole(access.RoleBorrower),
		middleware.NewTokenBucket(opts.RateLimit, opts.Redis, opts.Log),
	)
	g.POST("/reservations", h.CreateReservation)
	g.GET("/my-reservations", h.ListReservations)
	g.GET("/my-standing", h.MyStanding)
	g.GET("/reservations/:id", h.GetReservation)
	g.POST("/reservations/:id/cancel", h.CancelReservation)
	g.POST("/reservations/:id/extensions", h.RequestExtension)
	g.GET("/reservations/:id/extensions", h.ListExtensions)
}

// RegisterSteward registers counter operations for stewards and admins.
func RegisterSteward(e *echo.Echo, h *handler.StewardHandler, opts Options) {
	auth := middleware.JWTAuth(opts.JWTSecret)
	staff := middleware.RequireRole(access.RoleSteward, access.RoleAdmin)

	e.GET("/v1/hubs/:id/reservations", h.ListHubReservations, auth, staff)

	g := e.Group("/v1/steward", auth, staff)
	g.GET("/reservations/:id", h.GetReservation)
	g.POST("/reservations/:id/confirm", h.Confirm)
	g.POST("/reservations/:id/pickup", h.Pickup)
	g.POST("/reservations/:id/return", h.Return)
	g.POST("/reservations/:id/cancel", h.Cancel)
	g.POST("/extensions/:id/resolve", h.ResolveExtension)
	g.POST("/items/:id/adjust", h.AdjustItem)
	g.POST("/items/:id/active", h.SetItemActive)
}

// RegisterAdmin registers hub, intake and standing administration.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, opts Options) {
	auth := middleware.JWTAuth(opts.JWTSecret)
	g := e.Group("/v1/admin", auth)
	g.POST("/hubs", h.CreateHub, middleware.RequireRole(access.RoleAdmin))
	g.POST("/items", h.CreateItem, middleware.RequireRole(access.RoleAdmin, access.RoleSteward))
	g.GET("/standings/:borrower_id", h.GetStanding, middleware.RequireRole(access.RoleAdmin, access.RoleSteward))
	g.POST("/standings/:borrower_id/lift", h.LiftStanding, middleware.RequireRole(access.RoleAdmin))
}

// New builds the echo instance with every route group registered.
func New(db *database.DB, h Handlers, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover(opts.Log), middleware.RequestLogger(opts.Log))

	RegisterRoutes(e, db)
	RegisterPublic(e, h.Public, opts)
	RegisterBorrower(e, h.Borrower, opts)
	RegisterSteward(e, h.Steward, opts)
	RegisterAdmin(e, h.Admin, opts)
	return e
}
