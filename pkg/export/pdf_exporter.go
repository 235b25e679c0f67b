package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders datasets into a landscape table that wraps long cells
// and repeats the header on every page.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

const (
	tableLineHeight = 4.5
	tablePageWidth  = 277.0
	minColumnWidth  = 16.0
)

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(false, 12)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}

	widths := columnWidths(pdf, data)
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()

	drawHeader := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		for i, header := range data.Headers {
			pdf.CellFormat(widths[i], 7, header, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}
	drawHeader()

	for _, row := range data.Rows {
		lines := make([][]string, len(data.Headers))
		maxLines := 1
		for i, header := range data.Headers {
			lines[i] = splitCell(pdf, row[header], widths[i])
			if len(lines[i]) > maxLines {
				maxLines = len(lines[i])
			}
		}
		rowHeight := float64(maxLines)*tableLineHeight + 1
		if pdf.GetY()+rowHeight > pageHeight-bottom {
			pdf.AddPage()
			drawHeader()
		}
		x, y := pdf.GetXY()
		for i := range data.Headers {
			pdf.Rect(x, y, widths[i], rowHeight, "D")
			pdf.SetXY(x, y+0.5)
			pdf.MultiCell(widths[i], tableLineHeight, strings.Join(lines[i], "\n"), "", "L", false)
			x += widths[i]
		}
		pdf.SetXY(10, y+rowHeight)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// columnWidths shares the page width in proportion to the widest content of
// each column, with a floor so short columns stay legible.
func columnWidths(pdf *gofpdf.Fpdf, data Dataset) []float64 {
	pdf.SetFont("Arial", "", 8)
	want := make([]float64, len(data.Headers))
	total := 0.0
	for i, header := range data.Headers {
		w := pdf.GetStringWidth(header) + 4
		for _, row := range data.Rows {
			if cw := pdf.GetStringWidth(row[header]) + 4; cw > w {
				w = cw
			}
		}
		if w < minColumnWidth {
			w = minColumnWidth
		}
		want[i] = w
		total += w
	}
	if total <= tablePageWidth {
		scale := tablePageWidth / total
		for i := range want {
			want[i] *= scale
		}
		return want
	}
	// Columns that fit keep their width; the rest share what is left.
	fixed, flexible := 0.0, 0.0
	share := tablePageWidth / float64(len(want))
	for _, w := range want {
		if w <= share {
			fixed += w
		} else {
			flexible += w
		}
	}
	remaining := tablePageWidth - fixed
	for i, w := range want {
		if w > share {
			want[i] = remaining * w / flexible
		}
	}
	return want
}

func splitCell(pdf *gofpdf.Fpdf, value string, width float64) []string {
	if value == "" {
		return []string{""}
	}
	value = strings.ReplaceAll(value, ";", "; ")
	raw := pdf.SplitLines([]byte(value), width-2)
	out := make([]string, len(raw))
	for i, line := range raw {
		out[i] = strings.TrimSpace(string(line))
	}
	return out
}
