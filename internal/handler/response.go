package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/property-listing-api/internal/database"
	"github.com/iliyamo/property-listing-api/internal/middleware"
	"github.com/iliyamo/property-listing-api/internal/workflow"
)

type envelope struct {
	Success bool              `json:"success"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Pagination describes one page of a list response.
type Pagination struct {
	Page    int   `json:"page"`
	Limit   int   `json:"limit"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
	HasNext bool  `json:"hasNext"`
	HasPrev bool  `json:"hasPrev"`
}

type pageOf struct {
	Items      any        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// pageParams reads ?page and ?limit.  The limit is capped at 100.
func pageParams(c echo.Context) (page, limit int) {
	page = queryInt(c, "page", 1)
	limit = queryInt(c, "limit", defaultLimit)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func paginate(items any, page, limit int, total int64) pageOf {
	pages := int((total + int64(limit) - 1) / int64(limit))
	return pageOf{
		Items: items,
		Pagination: Pagination{
			Page:    page,
			Limit:   limit,
			Total:   total,
			Pages:   pages,
			HasNext: page < pages,
			HasPrev: page > 1,
		},
	}
}

func ok(c echo.Context, status int, data any) error {
	return c.JSON(status, envelope{Success: true, Data: data})
}

func done(c echo.Context, msg string) error {
	return c.JSON(http.StatusOK, envelope{Success: true, Message: msg})
}

// Status maps an error of the workflow taxonomy to an HTTP status and a
// stable error code.
func Status(err error) (int, string) {
	var ve *workflow.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, workflow.ErrAuthorization):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, workflow.ErrDuplicateKey):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, workflow.ErrStateTransition):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, workflow.ErrCheckViolation), errors.Is(err, workflow.ErrForeignKey):
		return http.StatusUnprocessableEntity, "constraint_violation"
	case errors.Is(err, workflow.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, workflow.ErrTransient), errors.Is(err, database.ErrPoolClosed):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}

// fail writes err as an error envelope.  Internal errors are logged and
// their text is not returned to the client.
func (h *Handler) fail(c echo.Context, err error) error {
	status, code := Status(err)
	body := envelope{Error: code, Message: err.Error()}
	var ve *workflow.ValidationError
	if errors.As(err, &ve) {
		body.Message = "validation failed"
		body.Details = ve.Fields
	}
	entry := h.log.WithError(err).WithFields(logrus.Fields{
		"route":  c.Path(),
		"status": status,
	})
	if id, ok := middleware.UserID(c); ok {
		entry = entry.WithField("user_id", id)
	}
	switch {
	case status >= 500:
		entry.Error("request failed")
		if status == http.StatusInternalServerError {
			body.Message = "internal server error"
		}
	case status == http.StatusForbidden:
		entry.WithField("severity", "medium").Warn("authorization failure")
	}
	return c.JSON(status, body)
}

// ErrorHandler renders errors that escape handlers, such as unknown routes
// and Echo's own HTTP errors, in the envelope format.
func (h *Handler) ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		_ = c.JSON(he.Code, envelope{Error: "http_error", Message: msg})
		return
	}
	_ = h.fail(c, err)
}
