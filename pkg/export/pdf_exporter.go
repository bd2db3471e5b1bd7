package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const pageContentWidth = 190.0

// Document carries the heading printed above the table.
type Document struct {
	Title       string
	GeneratedAt time.Time
}

// PDFExporter renders datasets into a basic tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with a title, a generation timestamp and the table body.
func (e *PDFExporter) Render(data Dataset, doc Document) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetTitle(doc.Title, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if doc.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(doc.Title), "", 1, "C", false, 0, "")
	}
	if !doc.GeneratedAt.IsZero() {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, "Generated at "+doc.GeneratedAt.Format("2006-01-02 15:04:05"), "", 1, "C", false, 0, "")
	}
	pdf.Ln(5)

	widths := columnWidths(data)

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, header := range data.Headers {
		pdf.CellFormat(widths[i], 8, tr(header), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for i := range data.Rows {
		for j, value := range data.Record(i) {
			pdf.CellFormat(widths[j], 7, tr(value), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(data Dataset) []float64 {
	widths := make([]float64, len(data.Headers))
	if len(data.Weights) != len(data.Headers) {
		for i := range widths {
			widths[i] = pageContentWidth / float64(len(widths))
		}
		return widths
	}
	var total float64
	for _, w := range data.Weights {
		total += w
	}
	for i, w := range data.Weights {
		widths[i] = pageContentWidth * w / total
	}
	return widths
}
