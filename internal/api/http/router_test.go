package http

import (
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupRouter_CORS(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("no origins", func(t *testing.T) {
		var router *gin.Engine
		require.NotPanics(t, func() { router = SetupRouter(nil, nil) })

		req := httptest.NewRequest(nethttp.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "http://elsewhere.example")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, nethttp.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("configured origin", func(t *testing.T) {
		router := SetupRouter(nil, []string{"http://localhost:3000"})

		req := httptest.NewRequest(nethttp.MethodGet, "/healthz", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, nethttp.StatusOK, rec.Code)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}
