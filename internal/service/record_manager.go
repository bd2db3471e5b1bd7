package service

import (
	"context"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records/internal/models"
	appErrors "github.com/noah-isme/student-records/pkg/errors"
	"github.com/noah-isme/student-records/pkg/jobs"
)

// RefreshJobType tags queued list refreshes.
const RefreshJobType = "refresh_students"

type studentRepository interface {
	List(ctx context.Context) ([]models.Student, error)
	Create(ctx context.Context, payload models.StudentPayload) (*models.Student, error)
	Update(ctx context.Context, id models.StudentID, payload models.StudentPayload) (*models.Student, error)
	Delete(ctx context.Context, id models.StudentID) error
}

// Confirmer asks the user to approve deleting a record.
type Confirmer interface {
	ConfirmDelete(ctx context.Context, student models.Student) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, student models.Student) (bool, error)

// ConfirmDelete implements Confirmer.
func (f ConfirmFunc) ConfirmDelete(ctx context.Context, student models.Student) (bool, error) {
	return f(ctx, student)
}

// Refresher resynchronises the stored list after a mutation.
type Refresher interface {
	Refresh(ctx context.Context)
}

// State is what a view renders: the stored list and the form draft.
type State struct {
	Students []models.Student
	Draft    models.Draft
}

// Listener is told about every state change.
type Listener func(State)

// RecordManager holds the fetched student list and the form draft, and mediates
// between them and the students API. The list is only a cache: every mutation is
// followed by a full refetch.
type RecordManager struct {
	repo      studentRepository
	exporter  *ExportService
	validator *validator.Validate
	logger    *zap.Logger

	mu        sync.Mutex
	students  []models.Student
	draft     models.Draft
	listeners map[int]Listener
	nextSub   int
	refresher Refresher
}

// NewRecordManager constructs the manager. Refreshes run synchronously until
// SetRefresher installs another strategy.
func NewRecordManager(repo studentRepository, exporter *ExportService, validate *validator.Validate, logger *zap.Logger) *RecordManager {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &RecordManager{
		repo:      repo,
		exporter:  exporter,
		validator: validate,
		logger:    logger,
		students:  make([]models.Student, 0),
		listeners: make(map[int]Listener),
	}
	m.refresher = syncRefresher{m: m}
	return m
}

// SetRefresher replaces the refresh strategy used after mutations.
func (m *RecordManager) SetRefresher(r Refresher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r == nil {
		r = syncRefresher{m: m}
	}
	m.refresher = r
}

// Subscribe registers a listener and returns a function that removes it.
func (m *RecordManager) Subscribe(l Listener) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = l
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// List fetches the whole collection and replaces the stored list. On failure
// the previous list is kept and the error is logged and returned.
func (m *RecordManager) List(ctx context.Context) error {
	students, err := m.repo.List(ctx)
	if err != nil {
		m.logger.Warn("refresh student list failed", zap.Error(err))
		return err
	}
	m.mu.Lock()
	m.students = students
	m.mu.Unlock()
	m.notify()
	return nil
}

// BeginCreate resets the draft to an empty new record.
func (m *RecordManager) BeginCreate() {
	m.mu.Lock()
	m.draft = models.Draft{}
	m.mu.Unlock()
	m.notify()
}

// Cancel abandons the current edit.
func (m *RecordManager) Cancel() {
	m.BeginCreate()
}

// BeginEdit copies every field of student, identifier included, into the draft.
func (m *RecordManager) BeginEdit(student models.Student) {
	m.mu.Lock()
	m.draft = models.DraftFrom(student)
	m.mu.Unlock()
	m.notify()
}

// Submit creates the draft when it has no identifier and updates the addressed
// record otherwise. On success the draft is cleared and the list refreshed; on
// failure the draft is kept for correction and the error returned.
func (m *RecordManager) Submit(ctx context.Context, draft models.Draft) (*models.Student, error) {
	m.mu.Lock()
	m.draft = draft
	m.mu.Unlock()

	if err := m.validator.Struct(draft); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "all fields are required")
	}

	var (
		saved *models.Student
		err   error
	)
	if draft.Editing() {
		saved, err = m.repo.Update(ctx, draft.ID, draft.Payload())
	} else {
		saved, err = m.repo.Create(ctx, draft.Payload())
	}
	if err != nil {
		m.logger.Warn("submit student failed", zap.Bool("editing", draft.Editing()), zap.String("id", draft.ID.String()), zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	m.draft = models.Draft{}
	m.mu.Unlock()
	m.notify()
	m.refresh(ctx)
	return saved, nil
}

// Delete removes the record once confirmer approves. It reports false with a
// nil error when the user declines.
func (m *RecordManager) Delete(ctx context.Context, id models.StudentID, confirmer Confirmer) (bool, error) {
	if id.IsZero() {
		return false, appErrors.Clone(appErrors.ErrValidation, "student id required")
	}
	target, ok := m.Find(id)
	if !ok {
		target = models.Student{ID: id}
	}
	if confirmer == nil {
		return false, nil
	}
	confirmed, err := confirmer.ConfirmDelete(ctx, target)
	if err != nil || !confirmed {
		return false, err
	}

	if err := m.repo.Delete(ctx, id); err != nil {
		m.logger.Warn("delete student failed", zap.String("id", id.String()), zap.Error(err))
		return false, err
	}
	m.refresh(ctx)
	return true, nil
}

// Filter returns the records whose name or major contains query, ignoring case.
func (m *RecordManager) Filter(list []models.Student, query string) []models.Student {
	return Filter(list, query)
}

// Export renders list in its current order.
func (m *RecordManager) Export(list []models.Student, format ExportFormat) (*ExportFile, error) {
	if m.exporter == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "export not configured")
	}
	return m.exporter.Export(list, format)
}

// Find looks a record up in the stored list.
func (m *RecordManager) Find(id models.StudentID) (models.Student, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.students {
		if s.ID.String() == id.String() {
			return s, true
		}
	}
	return models.Student{}, false
}

// Students returns a copy of the stored list.
func (m *RecordManager) Students() []models.Student {
	return m.Snapshot().Students
}

// Draft returns the current draft.
func (m *RecordManager) Draft() models.Draft {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draft
}

// Snapshot returns a copy of the list and draft.
func (m *RecordManager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

// HandleRefreshJob is the queue handler for asynchronous refreshes.
func (m *RecordManager) HandleRefreshJob(ctx context.Context, _ jobs.Job) error {
	return m.List(ctx)
}

func (m *RecordManager) stateLocked() State {
	students := make([]models.Student, len(m.students))
	copy(students, m.students)
	return State{Students: students, Draft: m.draft}
}

func (m *RecordManager) refresh(ctx context.Context) {
	m.mu.Lock()
	r := m.refresher
	m.mu.Unlock()
	r.Refresh(ctx)
}

func (m *RecordManager) notify() {
	m.mu.Lock()
	state := m.stateLocked()
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}

// Filter returns the subsequence of list whose name or major contains query as a
// case-insensitive substring. An empty query returns list unchanged.
func Filter(list []models.Student, query string) []models.Student {
	if query == "" {
		return list
	}
	needle := strings.ToLower(query)
	out := make([]models.Student, 0, len(list))
	for _, s := range list {
		if strings.Contains(strings.ToLower(s.Name), needle) || strings.Contains(strings.ToLower(s.Major), needle) {
			out = append(out, s)
		}
	}
	return out
}

type syncRefresher struct {
	m *RecordManager
}

// Refresh errors are already logged by List and otherwise dropped.
func (r syncRefresher) Refresh(ctx context.Context) {
	_ = r.m.List(ctx)
}

type jobQueue interface {
	Enqueue(job jobs.Job) error
}

// QueueRefresher hands refreshes to a job queue so mutations return before the
// refetch completes. Concurrent refreshes may finish in any order.
type QueueRefresher struct {
	queue  jobQueue
	logger *zap.Logger
}

// NewQueueRefresher wraps queue.
func NewQueueRefresher(queue jobQueue, logger *zap.Logger) *QueueRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueRefresher{queue: queue, logger: logger}
}

// Refresh enqueues a refresh job.
func (r *QueueRefresher) Refresh(context.Context) {
	if err := r.queue.Enqueue(jobs.Job{Type: RefreshJobType}); err != nil {
		r.logger.Warn("enqueue student list refresh failed", zap.Error(err))
	}
}
