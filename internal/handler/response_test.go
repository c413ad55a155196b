package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/property-listing-api/internal/database"
	"github.com/iliyamo/property-listing-api/internal/workflow"
)

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&workflow.ValidationError{Fields: map[string]string{"price": "must be positive"}}, http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("%w: user 4 is not an admin", workflow.ErrAuthorization), http.StatusForbidden, "forbidden"},
		{fmt.Errorf("%w: listing 9", workflow.ErrNotFound), http.StatusNotFound, "not_found"},
		{workflow.ErrDuplicateKey, http.StatusConflict, "duplicate"},
		{workflow.ErrStateTransition, http.StatusConflict, "invalid_state"},
		{workflow.ErrCheckViolation, http.StatusUnprocessableEntity, "constraint_violation"},
		{workflow.ErrForeignKey, http.StatusUnprocessableEntity, "constraint_violation"},
		{workflow.ErrTimeout, http.StatusGatewayTimeout, "timeout"},
		{workflow.ErrTransient, http.StatusServiceUnavailable, "unavailable"},
		{database.ErrPoolClosed, http.StatusServiceUnavailable, "unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		status, code := Status(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestPageParams(t *testing.T) {
	cases := []struct {
		query       string
		page, limit int
	}{
		{"", 1, 20},
		{"?page=3&limit=5", 3, 5},
		{"?page=0&limit=-1", 1, 20},
		{"?limit=500", 1, 100},
		{"?page=x&limit=y", 1, 20},
	}
	e := echo.New()
	for _, tc := range cases {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/"+tc.query, nil), httptest.NewRecorder())
		page, limit := pageParams(c)
		assert.Equal(t, tc.page, page, tc.query)
		assert.Equal(t, tc.limit, limit, tc.query)
	}
}

func TestPaginate(t *testing.T) {
	p := paginate([]int{1, 2}, 2, 2, 5).Pagination
	assert.Equal(t, Pagination{Page: 2, Limit: 2, Total: 5, Pages: 3, HasNext: true, HasPrev: true}, p)

	p = paginate([]int{}, 1, 20, 0).Pagination
	assert.Equal(t, 0, p.Pages)
	assert.False(t, p.HasNext)
	assert.False(t, p.HasPrev)
}

func TestPreferencesRequest(t *testing.T) {
	p, err := preferencesReq{PropertyTypes: []string{" Villa", "apartment"}, Bedrooms: []int{2, 3}}.model()
	assert.NoError(t, err)
	assert.Len(t, p.PropertyTypes.Types(), 2)
	assert.Equal(t, []int{2, 3}, p.Bedrooms.Counts())

	_, err = preferencesReq{PropertyTypes: []string{"castle"}}.model()
	var ve *workflow.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "property_types")

	_, err = preferencesReq{Bedrooms: []int{16}}.model()
	assert.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "bedrooms")
}

func render(t *testing.T, h *Handler, err error) (int, envelope) {
	t.Helper()
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	h.ErrorHandler(err, c)
	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestErrorHandler(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	h := &Handler{log: log}

	code, body := render(t, h, echo.NewHTTPError(http.StatusNotFound))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "http_error", body.Error)
	assert.False(t, body.Success)

	code, body = render(t, h, errors.New("pq: relation missing"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal server error", body.Message)

	code, body = render(t, h, &workflow.ValidationError{Fields: map[string]string{"title": "required"}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "validation failed", body.Message)
	assert.NotNil(t, body.Details)
}
