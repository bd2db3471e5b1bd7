package handler

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records/internal/models"
	"github.com/noah-isme/student-records/internal/service"
	appErrors "github.com/noah-isme/student-records/pkg/errors"
	"github.com/noah-isme/student-records/pkg/response"
)

const confirmValue = "yes"

// pageData feeds the index template.
type pageData struct {
	Title    string
	Notice   string
	Query    string
	Students []models.Student
	Draft    models.Draft
}

// confirmData feeds the delete confirmation template.
type confirmData struct {
	Title   string
	Notice  string
	Student models.Student
}

// studentForm is the posted record form. Age stays a string so an empty or
// malformed value can be reported instead of silently becoming zero.
type studentForm struct {
	ID    string `form:"id"`
	Name  string `form:"name"`
	Age   string `form:"age"`
	Major string `form:"major"`
	Email string `form:"email"`
}

func (f studentForm) draft() (models.Draft, error) {
	draft := models.Draft{
		ID:    models.ParseStudentID(f.ID),
		Name:  strings.TrimSpace(f.Name),
		Major: strings.TrimSpace(f.Major),
		Email: strings.TrimSpace(f.Email),
	}
	age := strings.TrimSpace(f.Age)
	if age == "" {
		return draft, nil
	}
	n, err := strconv.Atoi(age)
	if err != nil {
		return draft, appErrors.Clone(appErrors.ErrValidation, "age must be a whole number")
	}
	draft.Age = &n
	return draft, nil
}

// RecordHandler serves the record form, the list and exports as HTML pages.
// The draft lives in the shared RecordManager, so all sessions edit one form.
type RecordHandler struct {
	records *service.RecordManager
	exports *service.ExportService
	logger  *zap.Logger
}

// NewRecordHandler constructs RecordHandler.
func NewRecordHandler(records *service.RecordManager, exports *service.ExportService, logger *zap.Logger) *RecordHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordHandler{records: records, exports: exports, logger: logger}
}

// Index refreshes the list and renders it filtered by ?q= next to the form.
func (h *RecordHandler) Index(c *gin.Context) {
	_ = h.records.List(c.Request.Context())
	h.render(c, http.StatusOK, c.Query("q"), "")
}

// New starts a fresh draft.
func (h *RecordHandler) New(c *gin.Context) {
	h.records.BeginCreate()
	c.Redirect(http.StatusSeeOther, "/")
}

// Edit loads the addressed record into the draft.
func (h *RecordHandler) Edit(c *gin.Context) {
	student, ok := h.lookup(c.Request.Context(), c.Param("id"))
	if !ok {
		h.render(c, http.StatusNotFound, "", appErrors.ErrNotFound.Message)
		return
	}
	h.records.BeginEdit(student)
	c.Redirect(http.StatusSeeOther, "/")
}

// Cancel abandons the current edit.
func (h *RecordHandler) Cancel(c *gin.Context) {
	h.records.Cancel()
	c.Redirect(http.StatusSeeOther, "/")
}

// Submit godoc
// @Summary Create or update a student from the record form
// @Tags Students
// @Accept x-www-form-urlencoded
// @Produce html
// @Param id formData string false "Student ID when editing"
// @Param name formData string true "Name"
// @Param age formData int true "Age"
// @Param major formData string true "Major"
// @Param email formData string true "Email"
// @Success 303
// @Router /students [post]
func (h *RecordHandler) Submit(c *gin.Context) {
	var form studentForm
	if err := c.ShouldBind(&form); err != nil {
		h.fail(c, appErrors.Clone(appErrors.ErrValidation, "invalid form submission"))
		return
	}
	draft, err := form.draft()
	if err != nil {
		h.renderDraft(c, http.StatusBadRequest, draft, err)
		return
	}
	if _, err := h.records.Submit(c.Request.Context(), draft); err != nil {
		_ = c.Error(err)
		h.fail(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// ConfirmDelete renders the confirmation page for a delete.
func (h *RecordHandler) ConfirmDelete(c *gin.Context) {
	student, ok := h.lookup(c.Request.Context(), c.Param("id"))
	if !ok {
		h.render(c, http.StatusNotFound, "", appErrors.ErrNotFound.Message)
		return
	}
	c.HTML(http.StatusOK, "confirm.html", confirmData{Title: "Delete student", Student: student})
}

// Delete godoc
// @Summary Delete a student once confirmed
// @Tags Students
// @Accept x-www-form-urlencoded
// @Produce html
// @Param id path string true "Student ID"
// @Param confirm formData string true "Must be yes to delete"
// @Success 303
// @Router /students/{id}/delete [post]
func (h *RecordHandler) Delete(c *gin.Context) {
	confirmed := c.PostForm("confirm") == confirmValue
	confirmer := service.ConfirmFunc(func(context.Context, models.Student) (bool, error) {
		return confirmed, nil
	})
	if _, err := h.records.Delete(c.Request.Context(), models.ParseStudentID(c.Param("id")), confirmer); err != nil {
		_ = c.Error(err)
		h.fail(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

// Export godoc
// @Summary Export the filtered list
// @Tags Exports
// @Accept x-www-form-urlencoded
// @Param q formData string false "Search query applied before export"
// @Param format formData string false "pdf (default) or csv"
// @Success 303
// @Router /students/export [post]
func (h *RecordHandler) Export(c *gin.Context) {
	query := c.PostForm("q")
	format, err := service.ParseExportFormat(c.PostForm("format"))
	if err != nil {
		h.renderError(c, query, err)
		return
	}
	file, err := h.records.Export(h.records.Filter(h.records.Students(), query), format)
	if err != nil {
		h.renderError(c, query, err)
		return
	}
	stored, err := h.exports.Store(file)
	if err != nil {
		h.renderError(c, query, err)
		return
	}
	h.logger.Info("export ready",
		zap.String("export_id", stored.ID),
		zap.String("filename", stored.Filename),
		zap.Time("expires_at", stored.ExpiresAt),
	)
	c.Redirect(http.StatusSeeOther, stored.URL)
}

// Download godoc
// @Summary Download a stored export via its signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 410 {object} response.Envelope
// @Router /exports/{token} [get]
func (h *RecordHandler) Download(c *gin.Context) {
	file, name, err := h.exports.Open(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "read export"))
		return
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", name))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param q query string false "Case-insensitive match on name or major"
// @Success 200 {object} response.Envelope
// @Router /api/students [get]
func (h *RecordHandler) List(c *gin.Context) {
	refreshErr := h.records.List(c.Request.Context())
	query := c.Query("q")
	students := h.records.Filter(h.records.Students(), query)
	meta := map[string]interface{}{"total": len(students)}
	if query != "" {
		meta["query"] = query
	}
	if refreshErr != nil {
		meta["stale"] = true
	}
	response.JSON(c, http.StatusOK, students, meta)
}

func (h *RecordHandler) lookup(ctx context.Context, raw string) (models.Student, bool) {
	id := models.ParseStudentID(raw)
	if id.IsZero() {
		return models.Student{}, false
	}
	if student, ok := h.records.Find(id); ok {
		return student, true
	}
	if err := h.records.List(ctx); err != nil {
		return models.Student{}, false
	}
	return h.records.Find(id)
}

// fail re-renders the form with the draft as submitted and a blocking notice.
func (h *RecordHandler) fail(c *gin.Context, err error) {
	h.renderError(c, "", err)
}

func (h *RecordHandler) renderError(c *gin.Context, query string, err error) {
	appErr := appErrors.FromError(err)
	h.render(c, appErr.Status, query, appErr.Message)
}

// renderDraft shows a form value the manager never saw, such as a malformed age.
func (h *RecordHandler) renderDraft(c *gin.Context, status int, draft models.Draft, err error) {
	state := h.records.Snapshot()
	c.HTML(status, "index.html", pageData{
		Title:    "Student Records",
		Notice:   appErrors.FromError(err).Message,
		Students: state.Students,
		Draft:    draft,
	})
}

func (h *RecordHandler) render(c *gin.Context, status int, query, notice string) {
	state := h.records.Snapshot()
	c.HTML(status, "index.html", pageData{
		Title:    "Student Records",
		Notice:   notice,
		Query:    query,
		Students: service.Filter(state.Students, query),
		Draft:    state.Draft,
	})
}
