package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records/internal/models"
	appErrors "github.com/noah-isme/student-records/pkg/errors"
)

const (
	studentsPath   = "/students/"
	maxDetailRunes = 200
	maxErrorBody   = 64 << 10
)

type upstreamObserver interface {
	ObserveUpstreamCall(operation string, status int, duration time.Duration)
}

// StudentRepository talks to the external students API.
type StudentRepository struct {
	baseURL  string
	client   *http.Client
	metrics  upstreamObserver
	logger   *zap.Logger
	sanitize *bluemonday.Policy
}

// NewStudentRepository constructs a StudentRepository. A nil client means
// http.DefaultClient; a zero timeout leaves the client's own default.
func NewStudentRepository(baseURL string, client *http.Client, metrics upstreamObserver, logger *zap.Logger) *StudentRepository {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentRepository{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   client,
		metrics:  metrics,
		logger:   logger,
		sanitize: bluemonday.StrictPolicy(),
	}
}

// List fetches the full collection.
func (r *StudentRepository) List(ctx context.Context) ([]models.Student, error) {
	students := make([]models.Student, 0)
	if err := r.do(ctx, "list", http.MethodGet, r.collectionURL(), nil, &students); err != nil {
		return nil, err
	}
	return students, nil
}

// Create posts a new record and returns it with its assigned identifier.
func (r *StudentRepository) Create(ctx context.Context, payload models.StudentPayload) (*models.Student, error) {
	var created models.Student
	if err := r.do(ctx, "create", http.MethodPost, r.collectionURL(), payload, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// Update replaces the editable fields of the record addressed by id.
func (r *StudentRepository) Update(ctx context.Context, id models.StudentID, payload models.StudentPayload) (*models.Student, error) {
	if id.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "student id required for update")
	}
	var updated models.Student
	if err := r.do(ctx, "update", http.MethodPut, r.itemURL(id), payload, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes the record addressed by id. The confirmation body is ignored.
func (r *StudentRepository) Delete(ctx context.Context, id models.StudentID) error {
	if id.IsZero() {
		return appErrors.Clone(appErrors.ErrValidation, "student id required for delete")
	}
	return r.do(ctx, "delete", http.MethodDelete, r.itemURL(id), nil, nil)
}

// Ping checks that the collection endpoint answers without a server error.
func (r *StudentRepository) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.collectionURL(), nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "build ping request")
	}
	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.observe("ping", 0, time.Since(start))
		return appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, appErrors.ErrUpstreamUnavailable.Message)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	r.observe("ping", resp.StatusCode, time.Since(start))
	if resp.StatusCode >= http.StatusInternalServerError {
		return appErrors.Clone(appErrors.ErrUpstreamUnavailable, fmt.Sprintf("students api returned %d", resp.StatusCode))
	}
	return nil
}

func (r *StudentRepository) collectionURL() string {
	return r.baseURL + studentsPath
}

func (r *StudentRepository) itemURL(id models.StudentID) string {
	return r.baseURL + studentsPath + url.PathEscape(id.String())
}

func (r *StudentRepository) do(ctx context.Context, op, method, target string, body interface{}, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.observe(op, 0, time.Since(start))
		r.logger.Warn("students api unreachable", zap.String("operation", op), zap.String("url", target), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, appErrors.ErrUpstreamUnavailable.Message)
	}
	defer resp.Body.Close()
	r.observe(op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := r.statusError(resp.StatusCode, raw)
		r.logger.Warn("students api rejected request",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", apiErr.Message),
		)
		return apiErr
	}

	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUpstream.Code, appErrors.ErrUpstream.Status, "decode students api response")
	}
	return nil
}

func (r *StudentRepository) statusError(status int, body []byte) *appErrors.Error {
	detail := r.detail(body)
	var base *appErrors.Error
	switch {
	case status == http.StatusNotFound:
		base = appErrors.ErrNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		base = appErrors.ErrValidation
	default:
		base = appErrors.ErrUpstream
	}
	if detail == "" {
		detail = fmt.Sprintf("students api returned %d", status)
	}
	return appErrors.Clone(base, detail)
}

// detail pulls a readable message out of an error body. FastAPI style bodies
// carry either {"detail": "..."} or {"detail": [{"msg": "..."}]}; anything else
// (an HTML proxy page, say) is reduced to plain text.
func (r *StudentRepository) detail(body []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Detail) > 0 {
		var text string
		if err := json.Unmarshal(envelope.Detail, &text); err == nil {
			return r.plain(text)
		}
		var items []struct {
			Msg string `json:"msg"`
			Loc []any  `json:"loc"`
		}
		if err := json.Unmarshal(envelope.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg == "" {
					continue
				}
				if field := lastLoc(item.Loc); field != "" {
					msgs = append(msgs, field+": "+item.Msg)
					continue
				}
				msgs = append(msgs, item.Msg)
			}
			return r.plain(strings.Join(msgs, "; "))
		}
	}
	return r.plain(string(body))
}

func (r *StudentRepository) plain(s string) string {
	text := html.UnescapeString(r.sanitize.Sanitize(s))
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) > maxDetailRunes {
		return string(runes[:maxDetailRunes]) + "…"
	}
	return text
}

func (r *StudentRepository) observe(op string, status int, d time.Duration) {
	if r.metrics != nil {
		r.metrics.ObserveUpstreamCall(op, status, d)
	}
}

func lastLoc(loc []any) string {
	if len(loc) == 0 {
		return ""
	}
	if s, ok := loc[len(loc)-1].(string); ok {
		return s
	}
	return ""
}

// IsUnavailable reports whether err means the students API could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, appErrors.ErrUpstreamUnavailable)
}
