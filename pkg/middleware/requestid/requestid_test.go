package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newRouter(seen *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		*seen = Value(c)
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestMiddlewareGeneratesID(t *testing.T) {
	var seen string
	w := httptest.NewRecorder()
	newRouter(&seen).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusNoContent, w.Code)
	_, err := uuid.Parse(seen)
	require.NoError(t, err)
	require.Equal(t, seen, w.Header().Get(Header))
}

func TestMiddlewareKeepsIncomingID(t *testing.T) {
	var seen string
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(Header, "abc-123")
	w := httptest.NewRecorder()
	newRouter(&seen).ServeHTTP(w, req)

	require.Equal(t, "abc-123", seen)
	require.Equal(t, "abc-123", w.Header().Get(Header))
}
