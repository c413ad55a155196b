// Package router wires the HTTP routes onto an Echo instance.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/config"
	"github.com/iliyamo/property-listing-api/internal/handler"
	"github.com/iliyamo/property-listing-api/internal/middleware"
	"github.com/iliyamo/property-listing-api/internal/model"
)

// Options carries what the middleware chain needs besides the handler.
type Options struct {
	Config           config.Config
	Redis            *redis.Client // nil disables the cache and selects local rate limiting
	RateLimit        config.RateLimitConfig
	EnquiryRateLimit config.RateLimitConfig
	Cache            config.CacheConfig
	Logger           logrus.FieldLogger
}

// New builds the Echo instance with every route registered.
func New(h *handler.Handler, opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = h.ErrorHandler

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(opts.Logger))
	e.Use(middleware.Metrics())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: opts.Config.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, "X-Session-ID"},
	}))
	e.Use(echomw.BodyLimit("1M"))

	e.GET("/healthz", h.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api", middleware.NewTokenBucket(opts.RateLimit, opts.Redis, opts.Logger))
	registerPublic(api, h, opts)
	registerAuthenticated(api, h, opts.Config.JWTSecret)
	registerAgent(api, h, opts.Config.JWTSecret)
	registerAdmin(api, h, opts.Config.JWTSecret)
	return e
}

func registerPublic(api *echo.Group, h *handler.Handler, opts Options) {
	secret := opts.Config.JWTSecret
	api.POST("/enquiries", h.CreateEnquiry, middleware.NewTokenBucket(opts.EnquiryRateLimit, opts.Redis, opts.Logger))
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.GET("/properties", h.ListProperties, middleware.NewRedisCache(opts.Cache, opts.Redis))
	api.GET("/properties/:id", h.GetProperty, middleware.OptionalJWT(secret))
}

// registerAuthenticated attaches JWTAuth per route rather than through a
// group: a prefixless group would register its own catch-all under /api and
// turn unknown paths into 401s.
func registerAuthenticated(api *echo.Group, h *handler.Handler, secret string) {
	auth := middleware.JWTAuth(secret)

	api.POST("/auth/first-login-reset", h.FirstLoginReset, auth, middleware.RequireRole(string(model.RoleAgent)))
	api.POST("/auth/verify-email", h.VerifyEmail, auth)
	api.POST("/auth/verify-phone", h.VerifyPhone, auth)

	api.POST("/properties", h.CreateProperty, auth)
	api.PUT("/properties/:id", h.UpdateProperty, auth)
	api.POST("/properties/:id/submit", h.SubmitProperty, auth)
	api.PATCH("/properties/:id/status", h.ChangePropertyStatus, auth)
	api.DELETE("/properties/:id", h.DeleteProperty, auth)
	api.POST("/properties/:id/images", h.AddPropertyImage, auth)

	users := api.Group("/users/:id", auth)
	users.GET("/recommendations", h.Recommendations)
	users.GET("/dashboard", h.Dashboard)
	users.PUT("/preferences", h.UpdatePreferences)
	users.PUT("/preferred-agent", h.SetPreferredAgent)
	users.GET("/favorites", h.ListFavorites)
	users.POST("/favorites/:propertyId", h.AddFavorite)
	users.DELETE("/favorites/:propertyId", h.RemoveFavorite)
	users.GET("/assignments", h.ListAssignments)
	users.POST("/assignments/:assignmentId/close", h.CloseAssignment)
}

func registerAgent(api *echo.Group, h *handler.Handler, secret string) {
	g := api.Group("/agents", middleware.JWTAuth(secret), middleware.RequireRole(string(model.RoleAgent)))

	g.GET("/enquiries", h.AssignedEnquiries)
	g.GET("/enquiries/:id/notes", h.EnquiryNotes)
	g.POST("/enquiries/:id/notes", h.AddEnquiryNote)
	g.PUT("/enquiries/:id", h.UpdateEnquiry)
	g.POST("/assignments/:id/activity", h.RecordAssignmentActivity)
}

func registerAdmin(api *echo.Group, h *handler.Handler, secret string) {
	g := api.Group("/admin", middleware.JWTAuth(secret), middleware.RequireRole(string(model.RoleAdmin)))

	g.POST("/listings/:id/approve", h.ApproveListing)
	g.POST("/listings/:id/reject", h.RejectListing)
	g.POST("/listings/:id/request-changes", h.RequestListingChanges)
	g.PUT("/listings/:id/feature", h.FeatureProperty)
	g.POST("/agents", h.CreateAgent)
	g.GET("/approvals", h.PendingApprovals)
	g.GET("/notifications/pending", h.PendingNotifications)
	g.GET("/audit-logs", h.AuditLogs)
	g.POST("/enquiries/:id/assign", h.AssignEnquiry)
	g.POST("/enquiries/:id/close", h.CloseEnquiry)
	g.PUT("/settings/:key", h.SetSetting)
	g.POST("/maintenance/reconcile-favorites", h.ReconcileFavorites)
}
