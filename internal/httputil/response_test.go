package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/allisson/outboxd/internal/errors"
)

func TestHandleErrorGin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name         string
		err          error
		expectedCode int
		expectedBody string
	}{
		{
			name:         "not found",
			err:          apperrors.Wrap(apperrors.ErrNotFound, "outbox entry"),
			expectedCode: http.StatusNotFound,
			expectedBody: `{"error":"not_found","message":"The requested resource was not found"}`,
		},
		{
			name:         "conflict",
			err:          apperrors.ErrConflict,
			expectedCode: http.StatusConflict,
			expectedBody: `{"error":"conflict","message":"A conflict occurred with existing data"}`,
		},
		{
			name:         "invalid input exposes message",
			err:          apperrors.Wrap(apperrors.ErrInvalidInput, "event name is required"),
			expectedCode: http.StatusUnprocessableEntity,
			expectedBody: `{"error":"invalid_input","message":"event name is required: invalid input"}`,
		},
		{
			name:         "unavailable",
			err:          apperrors.ErrUnavailable,
			expectedCode: http.StatusServiceUnavailable,
			expectedBody: `{"error":"unavailable","message":"A dependency is temporarily unavailable"}`,
		},
		{
			name:         "unknown error hides details",
			err:          errors.New("pq: connection refused"),
			expectedCode: http.StatusInternalServerError,
			expectedBody: `{"error":"internal_error","message":"An internal error occurred"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			HandleErrorGin(c, tt.err, nil)

			assert.Equal(t, tt.expectedCode, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestHandleErrorGin_NilError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	HandleErrorGin(c, nil, nil)

	assert.Empty(t, w.Body.String())
}

func TestHandleBadRequestGin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	HandleBadRequestGin(c, errors.New("invalid character 'x'"), nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"bad_request","message":"invalid character 'x'"}`, w.Body.String())
}

func TestHandleValidationErrorGin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	HandleValidationErrorGin(c, errors.New("message: cannot be blank."), nil)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"error":"validation_error","message":"message: cannot be blank."}`, w.Body.String())
}
