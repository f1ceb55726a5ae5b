package middleware_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"flipmaster/internal/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCORSPreflight(t *testing.T) {
	router := gin.New()
	router.Use(middleware.CORS())
	router.POST("/api/flip", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/flip", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.WarnLevel)

	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/conflict", func(c *gin.Context) { c.Status(http.StatusConflict) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Empty(t, buf.String(), "successful requests log at debug")

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/conflict", nil))
	assert.Contains(t, buf.String(), `"status":409`)
	assert.Contains(t, buf.String(), `"path":"/conflict"`)
}
