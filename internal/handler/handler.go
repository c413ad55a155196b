// Package handler exposes the workflow engine and the derived views over
// HTTP.  Every response uses the same JSON envelope.
package handler

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/config"
	"github.com/iliyamo/property-listing-api/internal/middleware"
	"github.com/iliyamo/property-listing-api/internal/model"
	"github.com/iliyamo/property-listing-api/internal/repository"
	"github.com/iliyamo/property-listing-api/internal/workflow"
)

// Deps are the collaborators of Handler.
type Deps struct {
	Config  config.Config
	Engine  *workflow.Engine
	Source  workflow.Source
	Dialect repository.Dialect
	Hasher  workflow.Hasher
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

// Handler implements every HTTP endpoint.  Writes go through the engine;
// reads use the repositories directly.
type Handler struct {
	cfg  config.Config
	eng  *workflow.Engine
	src  workflow.Source
	d    repository.Dialect
	hash workflow.Hasher
	log  logrus.FieldLogger
	now  func() time.Time
}

// New builds a Handler.  It panics when the engine or source is missing.
func New(deps Deps) *Handler {
	if deps.Engine == nil || deps.Source == nil {
		panic("handler: nil engine or source")
	}
	h := &Handler{
		cfg:  deps.Config,
		eng:  deps.Engine,
		src:  deps.Source,
		d:    deps.Dialect,
		hash: deps.Hasher,
		log:  deps.Logger,
		now:  deps.Now,
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// readTimeout bounds the direct repository reads.
const readTimeout = 5 * time.Second

func (h *Handler) readCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), readTimeout)
}

func (h *Handler) db() (*sql.DB, error) { return h.src.DB() }

// actor is the authenticated principal.  Routes calling it sit behind
// JWTAuth.
func actor(c echo.Context) uint64 {
	id, _ := middleware.UserID(c)
	return id
}

func isAdmin(c echo.Context) bool { return middleware.Role(c) == string(model.RoleAdmin) }

// selfOrAdmin guards the /api/users/:id routes.
func selfOrAdmin(c echo.Context, userID uint64) error {
	if actor(c) == userID || isAdmin(c) {
		return nil
	}
	return workflow.ErrAuthorization
}

func paramID(c echo.Context, name string) (uint64, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, &workflow.ValidationError{Fields: map[string]string{name: "must be a positive integer"}}
	}
	return id, nil
}

// bind decodes the request body into v.
func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return &workflow.ValidationError{Fields: map[string]string{"body": "invalid JSON body"}}
	}
	return nil
}

func queryInt(c echo.Context, name string, def int) int {
	if n, err := strconv.Atoi(c.QueryParam(name)); err == nil {
		return n
	}
	return def
}

func queryFloat(c echo.Context, name string) *float64 {
	if f, err := strconv.ParseFloat(c.QueryParam(name), 64); err == nil {
		return &f
	}
	return nil
}

func queryBool(c echo.Context, name string) bool {
	v, _ := strconv.ParseBool(c.QueryParam(name))
	return v
}

// trimmed returns nil for a nil or blank s.
func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}
