package http

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCreateCORSMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		enabled bool
		origins string
		wantNil bool
	}{
		{name: "disabled", enabled: false, origins: "https://ops.example.com", wantNil: true},
		{name: "enabled without origins", enabled: true, origins: "", wantNil: true},
		{name: "enabled with only separators", enabled: true, origins: " , ,", wantNil: true},
		{name: "enabled with origins", enabled: true, origins: "https://ops.example.com, https://admin.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			middleware := createCORSMiddleware(tt.enabled, tt.origins, logger)
			if tt.wantNil {
				assert.Nil(t, middleware)
			} else {
				assert.NotNil(t, middleware)
			}
		})
	}
}

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t,
		[]string{"https://ops.example.com", "https://admin.example.com"},
		parseOrigins(" https://ops.example.com , https://admin.example.com ,"),
	)
}

func newCORSRouter(enabled bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	if middleware := createCORSMiddleware(enabled, "https://ops.example.com", slog.New(slog.NewTextHandler(io.Discard, nil))); middleware != nil {
		router.Use(middleware)
	}
	router.GET("/v1/outbox/stats", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{}) })
	router.POST("/v1/outbox/dispatch", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{}) })
	return router
}

func TestCORSIntegration(t *testing.T) {
	t.Run("HeadersAddedWhenEnabled", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/outbox/stats", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		newCORSRouter(true).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("NoHeadersWhenDisabled", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/outbox/stats", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		newCORSRouter(false).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("PreflightHandled", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/v1/outbox/dispatch", nil)
		req.Header.Set("Origin", "https://ops.example.com")
		req.Header.Set("Access-Control-Request-Method", "POST")
		newCORSRouter(true).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
	})
}
