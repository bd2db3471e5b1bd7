package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/student-records/internal/models"
	appErrors "github.com/noah-isme/student-records/pkg/errors"
	"github.com/noah-isme/student-records/pkg/export"
	"github.com/noah-isme/student-records/pkg/storage"
)

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	ExportFormatPDF ExportFormat = "pdf"
	ExportFormatCSV ExportFormat = "csv"

	exportTitle = "Student List"
)

var exportHeaders = []string{"ID", "Name", "Age", "Major", "Email"}

// ParseExportFormat maps a user supplied format, defaulting to PDF.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case "", ExportFormatPDF:
		return ExportFormatPDF, nil
	case ExportFormatCSV:
		return ExportFormatCSV, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", raw))
	}
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
	Path(filename string) string
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, doc export.Document) ([]byte, error)
}

type exportObserver interface {
	ObserveExport(format string)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	// DownloadPrefix is prepended to tokens to form download links.
	DownloadPrefix string
	ResultTTL      time.Duration
}

// ExportFile is a rendered export held in memory.
type ExportFile struct {
	Filename    string
	ContentType string
	Format      ExportFormat
	Data        []byte
	Rows        int
	GeneratedAt time.Time
}

// StoredExport describes a persisted export.
type StoredExport struct {
	ID           string
	Filename     string
	RelativePath string
	Token        string
	URL          string
	ExpiresAt    time.Time
}

// ExportService renders student lists and keeps rendered files for download.
type ExportService struct {
	storage fileStorage
	signer  *storage.SignedURLSigner
	csv     csvRenderer
	pdf     pdfRenderer
	metrics exportObserver
	logger  *zap.Logger
	cfg     ExportConfig
	now     func() time.Time
}

// NewExportService constructs an ExportService. storage and signer may be nil
// when exports are only rendered, never stored.
func NewExportService(store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, metrics exportObserver, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.DownloadPrefix == "" {
		cfg.DownloadPrefix = "/exports"
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		storage: store,
		signer:  signer,
		csv:     csv,
		pdf:     pdf,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Dataset lays list out as the export table, one row per record in list order.
func (s *ExportService) Dataset(list []models.Student) export.Dataset {
	rows := make([]map[string]string, 0, len(list))
	for _, student := range list {
		rows = append(rows, map[string]string{
			"ID":    student.ID.String(),
			"Name":  student.Name,
			"Age":   strconv.Itoa(student.Age),
			"Major": student.Major,
			"Email": student.Email,
		})
	}
	headers := make([]string, len(exportHeaders))
	copy(headers, exportHeaders)
	return export.Dataset{
		Headers: headers,
		Rows:    rows,
		Weights: []float64{1, 3, 1, 3, 4},
	}
}

// Export renders list in the requested format.
func (s *ExportService) Export(list []models.Student, format ExportFormat) (*ExportFile, error) {
	generatedAt := s.now()
	dataset := s.Dataset(list)

	var (
		data        []byte
		contentType string
		err         error
	)
	switch format {
	case ExportFormatPDF, "":
		format = ExportFormatPDF
		contentType = "application/pdf"
		data, err = s.pdf.Render(dataset, export.Document{Title: exportTitle, GeneratedAt: generatedAt})
	case ExportFormatCSV:
		contentType = "text/csv"
		data, err = s.csv.Render(dataset)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render export")
	}

	if s.metrics != nil {
		s.metrics.ObserveExport(string(format))
	}
	s.logger.Info("student list exported", zap.String("format", string(format)), zap.Int("rows", len(list)))

	return &ExportFile{
		Filename:    buildFilename(generatedAt, format),
		ContentType: contentType,
		Format:      format,
		Data:        data,
		Rows:        len(list),
		GeneratedAt: generatedAt,
	}, nil
}

// Save writes file into storage and returns its absolute path.
func (s *ExportService) Save(file *ExportFile) (string, error) {
	if s.storage == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "export storage not configured")
	}
	relPath, err := s.storage.Save(file.Filename, file.Data)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store export")
	}
	return s.storage.Path(relPath), nil
}

// Store persists file and issues a signed download token for it.
func (s *ExportService) Store(file *ExportFile) (*StoredExport, error) {
	if s.storage == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "export storage not configured")
	}
	id := uuid.NewString()
	relPath, err := s.storage.Save(id+"_"+file.Filename, file.Data)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "store export")
	}
	token, expiresAt, err := s.signer.Generate(id, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "sign export link")
	}
	return &StoredExport{
		ID:           id,
		Filename:     file.Filename,
		RelativePath: relPath,
		Token:        token,
		URL:          strings.TrimRight(s.cfg.DownloadPrefix, "/") + "/" + token,
		ExpiresAt:    expiresAt,
	}, nil
}

// Open resolves a download token to the stored file and the name to offer the
// client. Expired, tampered or dangling links all report ErrExportLinkInvalid.
func (s *ExportService) Open(token string) (*os.File, string, error) {
	if s.storage == nil || s.signer == nil {
		return nil, "", appErrors.Clone(appErrors.ErrInternal, "export storage not configured")
	}
	id, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrExportLinkInvalid.Code, appErrors.ErrExportLinkInvalid.Status, appErrors.ErrExportLinkInvalid.Message)
	}
	f, err := s.storage.Open(relPath)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrExportLinkInvalid.Code, appErrors.ErrExportLinkInvalid.Status, appErrors.ErrExportLinkInvalid.Message)
	}
	return f, strings.TrimPrefix(relPath, id+"_"), nil
}

// Cleanup removes stored exports older than ttl (the configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if s.storage == nil {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	removed, err := s.storage.CleanupOlderThan(ttl)
	if err != nil {
		return removed, err
	}
	if len(removed) > 0 {
		s.logger.Info("expired exports removed", zap.Int("count", len(removed)))
	}
	return removed, nil
}

// StartCleanup purges expired exports every interval until ctx is cancelled.
func (s *ExportService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.storage == nil {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Cleanup(0); err != nil {
					s.logger.Warn("export cleanup failed", zap.Error(err))
				}
			}
		}
	}()
}

func buildFilename(at time.Time, format ExportFormat) string {
	return fmt.Sprintf("students_%s.%s", at.Format("20060102_150405"), format)
}
