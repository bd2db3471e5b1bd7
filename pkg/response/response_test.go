package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/student-records/pkg/errors"
)

func TestJSONWritesEnvelopeAndMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	JSON(c, http.StatusOK, []string{"a"}, map[string]interface{}{"total": 1})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, []interface{}{"a"}, body["data"])
	require.Equal(t, float64(1), body["meta"].(map[string]interface{})["total"])
}

func TestErrorUsesTypedStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, appErrors.Clone(appErrors.ErrUpstream, "students api returned 500"))
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Contains(t, w.Body.String(), "UPSTREAM_ERROR")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	Error(c, errors.New("unexpected"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
}
