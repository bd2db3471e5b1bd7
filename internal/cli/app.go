// Package cli is the interactive terminal front-end over the record manager.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/noah-isme/student-records/internal/models"
	"github.com/noah-isme/student-records/internal/repository"
	"github.com/noah-isme/student-records/internal/service"
	appErrors "github.com/noah-isme/student-records/pkg/errors"
)

const unreachableHint = "Check that the students API is running and API_BASE_URL points at it."

const (
	actionList = iota
	actionSearch
	actionAdd
	actionEdit
	actionDelete
	actionExport
	actionQuit
)

var menuOptions = []string{
	actionList:   "List students",
	actionSearch: "Search",
	actionAdd:    "Add student",
	actionEdit:   "Edit student",
	actionDelete: "Delete student",
	actionExport: "Export list",
	actionQuit:   "Quit",
}

var exportOptions = []string{"PDF", "CSV"}

// App runs the menu loop.
type App struct {
	records *service.RecordManager
	exports *service.ExportService
	driver  PromptDriver
	out     io.Writer
	logger  *zap.Logger

	mu        sync.Mutex
	query     string
	lastTable string
}

// NewApp constructs App. exports may be nil, which disables saving exports.
func NewApp(records *service.RecordManager, exports *service.ExportService, driver PromptDriver, out io.Writer, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{records: records, exports: exports, driver: driver, out: out, logger: logger}
}

// Run loads the list and serves menu choices until the user quits or aborts.
func (a *App) Run(ctx context.Context) error {
	unsubscribe := a.records.Subscribe(a.onChange)
	defer unsubscribe()

	if err := a.records.List(ctx); err != nil {
		a.notify(err)
	}

	for {
		choice, err := a.driver.Select(ctx, SelectConfig{Message: "What would you like to do?", Options: menuOptions})
		if err != nil {
			return a.finish(err)
		}

		switch choice {
		case actionList:
			err = a.list(ctx)
		case actionSearch:
			err = a.search(ctx)
		case actionAdd:
			a.records.BeginCreate()
			err = a.submit(ctx)
		case actionEdit:
			err = a.edit(ctx)
		case actionDelete:
			err = a.delete(ctx)
		case actionExport:
			err = a.export(ctx)
		case actionQuit:
			return nil
		default:
			continue
		}

		if errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled) {
			return a.finish(err)
		}
		if err != nil {
			a.notify(err)
		}
	}
}

func (a *App) finish(err error) error {
	if errors.Is(err, ErrAborted) {
		return nil
	}
	return err
}

// onChange prints the table whenever the stored list changes.
func (a *App) onChange(state service.State) {
	table := renderTable(state.Students)
	a.mu.Lock()
	changed := table != a.lastTable
	a.lastTable = table
	a.mu.Unlock()
	if changed {
		fmt.Fprint(a.out, table)
	}
}

func (a *App) list(ctx context.Context) error {
	if err := a.records.List(ctx); err != nil {
		return err
	}
	a.setQuery("")
	fmt.Fprint(a.out, renderTable(a.records.Students()))
	return nil
}

func (a *App) search(ctx context.Context) error {
	query, err := a.driver.Input(ctx, InputConfig{Message: "Search by name or major:", Default: a.currentQuery()})
	if err != nil {
		return err
	}
	a.setQuery(query)
	fmt.Fprint(a.out, renderTable(a.records.Filter(a.records.Students(), query)))
	return nil
}

func (a *App) edit(ctx context.Context) error {
	student, ok, err := a.pick(ctx, "Edit which student?")
	if err != nil || !ok {
		return err
	}
	a.records.BeginEdit(student)
	return a.submit(ctx)
}

// submit asks for every field, starting from the current draft, and retries
// from the kept draft after a failure until it succeeds or the user gives up.
func (a *App) submit(ctx context.Context) error {
	for {
		draft, err := a.askDraft(ctx, a.records.Draft())
		if err != nil {
			return err
		}
		if _, err := a.records.Submit(ctx, draft); err != nil {
			a.notify(err)
			retry, cerr := a.driver.Confirm(ctx, ConfirmConfig{Message: "Edit and try again?", Default: true})
			if cerr != nil {
				return cerr
			}
			if !retry {
				a.records.Cancel()
				return nil
			}
			continue
		}
		if draft.Editing() {
			fmt.Fprintf(a.out, "Student #%s updated.\n", draft.ID)
		} else {
			fmt.Fprintln(a.out, "Student added.")
		}
		return nil
	}
}

func (a *App) askDraft(ctx context.Context, draft models.Draft) (models.Draft, error) {
	var err error
	if draft.Name, err = a.driver.Input(ctx, InputConfig{Message: "Name:", Default: draft.Name, Validator: required("name")}); err != nil {
		return draft, err
	}
	age, err := a.driver.Input(ctx, InputConfig{Message: "Age:", Default: draft.AgeText(), Validator: wholeNumber})
	if err != nil {
		return draft, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(age))
	if err != nil {
		return draft, appErrors.Clone(appErrors.ErrValidation, "age must be a whole number")
	}
	draft.Age = &n
	if draft.Major, err = a.driver.Input(ctx, InputConfig{Message: "Major:", Default: draft.Major, Validator: required("major")}); err != nil {
		return draft, err
	}
	if draft.Email, err = a.driver.Input(ctx, InputConfig{Message: "Email:", Default: draft.Email, Validator: required("email")}); err != nil {
		return draft, err
	}
	draft.Name = strings.TrimSpace(draft.Name)
	draft.Major = strings.TrimSpace(draft.Major)
	draft.Email = strings.TrimSpace(draft.Email)
	return draft, nil
}

func (a *App) delete(ctx context.Context) error {
	student, ok, err := a.pick(ctx, "Delete which student?")
	if err != nil || !ok {
		return err
	}
	confirmer := service.ConfirmFunc(func(ctx context.Context, s models.Student) (bool, error) {
		return a.driver.Confirm(ctx, ConfirmConfig{Message: fmt.Sprintf("Are you sure you want to delete %s (#%s)?", s.Name, s.ID)})
	})
	deleted, err := a.records.Delete(ctx, student.ID, confirmer)
	if err != nil {
		return err
	}
	if deleted {
		fmt.Fprintf(a.out, "Student #%s deleted.\n", student.ID)
	}
	return nil
}

func (a *App) export(ctx context.Context) error {
	if a.exports == nil {
		return appErrors.Clone(appErrors.ErrInternal, "export storage not configured")
	}
	choice, err := a.driver.Select(ctx, SelectConfig{Message: "Export format:", Options: exportOptions})
	if err != nil {
		return err
	}
	format := service.ExportFormatPDF
	if choice == 1 {
		format = service.ExportFormatCSV
	}
	list := a.records.Filter(a.records.Students(), a.currentQuery())
	file, err := a.records.Export(list, format)
	if err != nil {
		return err
	}
	path, err := a.exports.Save(file)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Exported %d students to %s\n", file.Rows, path)
	return nil
}

// pick offers the filtered list as a choice. ok is false when there is nothing to pick.
func (a *App) pick(ctx context.Context, message string) (models.Student, bool, error) {
	students := a.records.Filter(a.records.Students(), a.currentQuery())
	if len(students) == 0 {
		fmt.Fprintln(a.out, "No students found.")
		return models.Student{}, false, nil
	}
	options := make([]string, len(students))
	for i, s := range students {
		options[i] = fmt.Sprintf("#%s %s (%s)", s.ID, s.Name, s.Major)
	}
	idx, err := a.driver.Select(ctx, SelectConfig{Message: message, Options: options, PageSize: 10})
	if err != nil {
		return models.Student{}, false, err
	}
	if idx < 0 || idx >= len(students) {
		return models.Student{}, false, nil
	}
	return students[idx], true, nil
}

func (a *App) notify(err error) {
	a.logger.Debug("operation failed", zap.Error(err))
	fmt.Fprintf(a.out, "Error: %s\n", appErrors.FromError(err).Message)
	if repository.IsUnavailable(err) {
		fmt.Fprintln(a.out, unreachableHint)
	}
}

func (a *App) currentQuery() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.query
}

func (a *App) setQuery(q string) {
	a.mu.Lock()
	a.query = q
	a.mu.Unlock()
}

func renderTable(students []models.Student) string {
	if len(students) == 0 {
		return "No students found.\n"
	}
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tAGE\tMAJOR\tEMAIL")
	for _, s := range students {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", s.ID, s.Name, s.Age, s.Major, s.Email)
	}
	_ = w.Flush()
	return b.String()
}

func required(field string) func(string) error {
	return func(v string) error {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func wholeNumber(v string) error {
	if _, err := strconv.Atoi(strings.TrimSpace(v)); err != nil {
		return errors.New("age must be a whole number")
	}
	return nil
}
