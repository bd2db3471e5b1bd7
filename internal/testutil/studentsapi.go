// Package testutil provides an in-memory stand-in for the external students API.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// APIStudent mirrors the record shape served by the students API.
type APIStudent struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Age   int    `json:"age"`
	Major string `json:"major"`
	Email string `json:"email"`
}

// StudentsAPI serves /students/ with create, read, update and delete semantics.
type StudentsAPI struct {
	Server *httptest.Server

	mu       sync.Mutex
	students map[int]APIStudent
	nextID   int
	failures map[string]int
	requests []string
}

// NewStudentsAPI starts the fake server and stops it when the test ends.
func NewStudentsAPI(t testing.TB, seed ...APIStudent) *StudentsAPI {
	t.Helper()
	api := &StudentsAPI{students: make(map[int]APIStudent), nextID: 1, failures: make(map[string]int)}
	for _, s := range seed {
		api.students[s.ID] = s
		if s.ID >= api.nextID {
			api.nextID = s.ID + 1
		}
	}
	api.Server = httptest.NewServer(http.HandlerFunc(api.serve))
	t.Cleanup(api.Server.Close)
	return api
}

// URL returns the base URL to configure clients with.
func (a *StudentsAPI) URL() string {
	return a.Server.URL
}

// FailNext makes the next request with the given method answer with status.
func (a *StudentsAPI) FailNext(method string, status int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[method] = status
}

// Students returns the stored records ordered by id.
func (a *StudentsAPI) Students() []APIStudent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sorted()
}

// Requests lists "METHOD path" for every request served so far.
func (a *StudentsAPI) Requests() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.requests...)
}

func (a *StudentsAPI) sorted() []APIStudent {
	out := make([]APIStudent, 0, len(a.students))
	for _, s := range a.students {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (a *StudentsAPI) serve(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, r.Method+" "+r.URL.Path)

	if status, ok := a.failures[r.Method]; ok {
		delete(a.failures, r.Method)
		writeJSON(w, status, map[string]string{"detail": http.StatusText(status)})
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/students/") {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not Found"})
		return
	}
	rawID := strings.TrimPrefix(r.URL.Path, "/students/")

	if rawID == "" {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, a.sorted())
		case http.MethodPost:
			var s APIStudent
			if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
					"detail": []map[string]interface{}{{"loc": []string{"body"}, "msg": err.Error()}},
				})
				return
			}
			s.ID = a.nextID
			a.nextID++
			a.students[s.ID] = s
			writeJSON(w, http.StatusOK, s)
		default:
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
		}
		return
	}

	id, err := strconv.Atoi(rawID)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"detail": []map[string]interface{}{{"loc": []string{"path", "student_id"}, "msg": "value is not a valid integer"}},
		})
		return
	}
	current, ok := a.students[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Student not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, current)
	case http.MethodPut:
		var s APIStudent
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": err.Error()})
			return
		}
		s.ID = id
		a.students[id] = s
		writeJSON(w, http.StatusOK, s)
	case http.MethodDelete:
		delete(a.students, id)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Student deleted successfully"})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method Not Allowed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
