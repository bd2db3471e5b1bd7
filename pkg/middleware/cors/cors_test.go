package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func serve(allowed []string, method, origin string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(New(allowed))
	r.GET("/api/students", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/api/students", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAllowedOriginEchoed(t *testing.T) {
	w := serve([]string{"http://localhost:5173/"}, http.MethodGet, "http://localhost:5173")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnknownOriginNotEchoed(t *testing.T) {
	w := serve([]string{"http://localhost:5173"}, http.MethodGet, "http://evil.test")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	w := serve(nil, http.MethodOptions, "http://any.test")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://any.test", w.Header().Get("Access-Control-Allow-Origin"))
}
