package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records/internal/repository"
	"github.com/noah-isme/student-records/internal/service"
	"github.com/noah-isme/student-records/internal/testutil"
	"github.com/noah-isme/student-records/pkg/storage"
)

type testApp struct {
	router  *gin.Engine
	api     *testutil.StudentsAPI
	records *service.RecordManager
	metrics *service.MetricsService
}

func seedStudents() []testutil.APIStudent {
	return []testutil.APIStudent{
		{ID: 1, Name: "Ann", Age: 20, Major: "CS", Email: "ann@example.com"},
		{ID: 2, Name: "Bob", Age: 22, Major: "Art", Email: "bob@example.com"},
	}
}

func newTestApp(t *testing.T, seed ...testutil.APIStudent) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	api := testutil.NewStudentsAPI(t, seed...)
	metrics := service.NewMetricsService()
	repo := repository.NewStudentRepository(api.URL(), nil, metrics, zap.NewNop())

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	exports := service.NewExportService(store, signer, service.ExportConfig{DownloadPrefix: "/exports"}, metrics, zap.NewNop(), nil, nil)
	records := service.NewRecordManager(repo, exports, nil, zap.NewNop())

	router, err := NewRouter(RouterConfig{
		Logger:  zap.NewNop(),
		Metrics: metrics,
		Records: NewRecordHandler(records, exports, zap.NewNop()),
		Health:  NewMetricsHandler(metrics, repo),
	})
	require.NoError(t, err)
	return &testApp{router: router, api: api, records: records, metrics: metrics}
}

func (a *testApp) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func TestIndexRendersFilteredList(t *testing.T) {
	app := newTestApp(t, seedStudents()...)

	w := app.do(http.MethodGet, "/?q=an", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Ann")
	assert.NotContains(t, body, "bob@example.com")
	assert.Contains(t, body, "Add Student")
}

func TestIndexToleratesUnreachableAPI(t *testing.T) {
	app := newTestApp(t, seedStudents()...)
	app.api.Server.Close()

	w := app.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "No students found.")
}

func TestSubmitCreatesStudent(t *testing.T) {
	app := newTestApp(t, seedStudents()...)

	w := app.do(http.MethodPost, "/students", url.Values{
		"name":  {"Cara"},
		"age":   {"21"},
		"major": {"Math"},
		"email": {"cara@example.com"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	stored := app.api.Students()
	require.Len(t, stored, 3)
	assert.Equal(t, "Cara", stored[2].Name)
	assert.Equal(t, 21, stored[2].Age)
	assert.Len(t, app.records.Students(), 3)
}

func TestSubmitRejectsMalformedAgeKeepingInput(t *testing.T) {
	app := newTestApp(t, seedStudents()...)

	w := app.do(http.MethodPost, "/students", url.Values{
		"name":  {"Cara"},
		"age":   {"twenty"},
		"major": {"Math"},
		"email": {"cara@example.com"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "age must be a whole number")
	assert.Contains(t, body, `value="Cara"`)
	assert.Len(t, app.api.Students(), 2)
}

func TestSubmitFailureShowsNoticeAndKeepsDraft(t *testing.T) {
	app := newTestApp(t, seedStudents()...)
	app.api.FailNext(http.MethodPut, http.StatusInternalServerError)

	w := app.do(http.MethodPost, "/students", url.Values{
		"id":    {"2"},
		"name":  {"Bobby"},
		"age":   {"23"},
		"major": {"Art"},
		"email": {"bob@example.com"},
	})
	require.Equal(t, http.StatusBadGateway, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `role="alert"`)
	assert.Contains(t, body, "Internal Server Error")
	assert.Contains(t, body, "Edit Student #2")
	assert.Contains(t, body, `value="Bobby"`)
	assert.Equal(t, "Bobby", app.records.Draft().Name)
}

func TestEditThenUpdate(t *testing.T) {
	app := newTestApp(t, seedStudents()...)

	w := app.do(http.MethodGet, "/students/2/edit", nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "2", app.records.Draft().ID.String())

	w = app.do(http.MethodGet, "/", nil)
	assert.Contains(t, w.Body.String(), "Edit Student #2")

	w = app.do(http.MethodPost, "/students", url.Values{
		"id":    {"2"},
		"name":  {"Bob"},
		"age":   {"22"},
		"major": {"Sculpture"},
		"email": {"bob@example.com"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "Sculpture", app.api.Students()[1].Major)
	assert.Equal(t, "CS", app.api.Students()[0].Major)
	assert.False(t, app.records.Draft().Editing())
}

func TestEditFormShowsAgeZero(t *testing.T) {
	app := newTestApp(t, testutil.APIStudent{ID: 7, Name: "Ivy", Age: 0, Major: "Music", Email: "ivy@example.com"})

	w := app.do(http.MethodGet, "/students/007/edit", nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "7", app.records.Draft().ID.String())

	w = app.do(http.MethodGet, "/", nil)
	assert.Contains(t, w.Body.String(), `name="age" value="0"`)

	w = app.do(http.MethodPost, "/students", url.Values{
		"id":    {"7"},
		"name":  {"Ivy"},
		"age":   {"0"},
		"major": {"Jazz"},
		"email": {"ivy@example.com"},
	})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "Jazz", app.api.Students()[0].Major)
	assert.Equal(t, 0, app.api.Students()[0].Age)
}

func TestNewFormLeavesAgeBlank(t *testing.T) {
	app := newTestApp(t, seedStudents()...)
	w := app.do(http.MethodGet, "/", nil)
	assert.Contains(t, w.Body.String(), `name="age" value=""`)
}

func TestEditUnknownStudent(t *testing.T) {
	app := newTestApp(t, seedStudents()...)
	w := app.do(http.MethodGet, "/students/42/edit", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelResetsDraft(t *testing.T) {
	app := newTestApp(t, seedStudents()...)
	app.do(http.MethodGet, "/students/1/edit", nil)
	require.True(t, app.records.Draft().Editing())

	w := app.do(http.MethodPost, "/students/cancel", url.Values{})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.False(t, app.records.Draft().Editing())
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	app := newTestApp(t, seedStudents()...)

	w := app.do(http.MethodGet, "/students/1/delete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Are you sure you want to delete Ann")

	w = app.do(http.MethodPost, "/students/1/delete", url.Values{"confirm": {"no"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Len(t, app.api.Students(), 2)
	assert.NotContains(t, app.api.Requests(), "DELETE /students/1")

	w = app.do(http.MethodPost, "/students/1/delete", url.Values{"confirm": {"yes"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Len(t, app.api.Students(), 1)
	require.Len(t, app.records.Students(), 1)
	assert.Equal(t, "Bob", app.records.Students()[0].Name)
}

func TestDeleteFailureShowsNotice(t *testing.T) {
	app := newTestApp(t, seedStudents()...)
	w := app.do(http.MethodPost, "/students/9/delete", url.Values{"confirm": {"yes"}})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Student not found")
}

func TestExportAndDownload(t *testing.T) {
	app := newTestApp(t, seedStudents()...)
	app.do(http.MethodGet, "/", nil)

	w := app.do(http.MethodPost, "/students/export", url.Values{"q": {"art"}, "format": {"csv"}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	location := w.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/exports/"))

	w = app.do(http.MethodGet, location, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment; filename=\"students_")
	assert.Equal(t, "ID,Name,Age,Major,Email\n2,Bob,22,Art,bob@example.com\n", w.Body.String())
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	app := newTestApp(t, seedStudents()...)
	w := app.do(http.MethodPost, "/students/export", url.Values{"format": {"docx"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadRejectsBadToken(t *testing.T) {
	app := newTestApp(t)
	w := app.do(http.MethodGet, "/exports/not-a-token", nil)
	require.Equal(t, http.StatusGone, w.Code)

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "EXPORT_LINK_INVALID", envelope.Error.Code)
}

func TestAPIListReturnsEnvelope(t *testing.T) {
	app := newTestApp(t, seedStudents()...)

	w := app.do(http.MethodGet, "/api/students?q=cs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var envelope struct {
		Data []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	assert.Equal(t, 1, envelope.Data[0].ID)
	assert.Equal(t, "Ann", envelope.Data[0].Name)
	assert.Equal(t, float64(1), envelope.Meta["total"])
	assert.Equal(t, "cs", envelope.Meta["query"])
}

func TestHealthReadyAndMetrics(t *testing.T) {
	app := newTestApp(t, seedStudents()...)

	w := app.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)

	w = app.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "students_api_requests_total")

	app.api.Server.Close()
	w = app.do(http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
