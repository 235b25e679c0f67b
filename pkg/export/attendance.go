package export

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// AttendanceSheet is everything printed on one room's attendance document.
type AttendanceSheet struct {
	Title    string
	Date     string
	Session  string
	Room     string
	Course   string
	Students []AttendanceStudent
}

// AttendanceStudent is one card on the sheet.
type AttendanceStudent struct {
	Roll string
	Name string
}

// AttendanceRenderer lays out attendance sheets as A4 card grids.
type AttendanceRenderer struct {
	photos *PhotoSource
}

// NewAttendanceRenderer builds a renderer; photos may be nil.
func NewAttendanceRenderer(photos *PhotoSource) *AttendanceRenderer {
	return &AttendanceRenderer{photos: photos}
}

const (
	sheetMargin     = 15.0
	cardColumns     = 3
	cardHeight      = 45.0
	cardGap         = 2.0
	photoSize       = 22.0
	invigilatorRows = 6
)

// Render draws the sheet. Missing photos fall back to a placeholder box.
// Photos that fail to load are returned as per-card errors and the document
// is still produced.
func (r *AttendanceRenderer) Render(sheet AttendanceSheet) ([]byte, []error, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(sheetMargin, sheetMargin, sheetMargin)
	pdf.SetAutoPageBreak(false, sheetMargin)
	pdf.AddPage()
	pageW, pageH := pdf.GetPageSize()

	title := sheet.Title
	if title == "" {
		title = "Examination Attendance Sheet"
	}
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 8, title, "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Date: %s | Shift: %s | Room No: %s | Student count: %d",
		sheet.Date, sheet.Session, sheet.Room, len(sheet.Students)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Subject: %s | Stud Present:        | Stud Absent:", sheet.Course), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	var photoErrs []error
	cardW := (pageW - 2*sheetMargin) / cardColumns
	y := pdf.GetY()
	for i, student := range sheet.Students {
		col := i % cardColumns
		if col == 0 && i > 0 {
			y += cardHeight + cardGap
		}
		if col == 0 && y+cardHeight > pageH-sheetMargin {
			pdf.AddPage()
			y = sheetMargin
		}
		x := sheetMargin + float64(col)*cardW
		if err := r.drawCard(pdf, student, x, y, cardW-cardGap); err != nil {
			photoErrs = append(photoErrs, err)
		}
	}
	if len(sheet.Students) > 0 {
		y += cardHeight + cardGap
	}

	y += 12
	if y+12+float64(invigilatorRows)*8 > pageH-sheetMargin {
		pdf.AddPage()
		y = sheetMargin
	}
	r.drawInvigilators(pdf, y, pageW)

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, photoErrs, fmt.Errorf("render attendance pdf: %w", err)
	}
	return buf.Bytes(), photoErrs, nil
}

func (r *AttendanceRenderer) drawCard(pdf *gofpdf.Fpdf, student AttendanceStudent, x, y, w float64) error {
	pdf.Rect(x, y, w, cardHeight, "D")

	photoX, photoY := x+3, y+3
	var photoErr error
	data, err := r.photos.Load(student.Roll)
	switch {
	case err == nil:
		name := "photo-" + student.Roll
		opts := gofpdf.ImageOptions{ImageType: "JPG", ReadDpi: false}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(data))
		if pdf.Ok() {
			pdf.ImageOptions(name, photoX, photoY, photoSize, photoSize, false, opts, 0, "")
			break
		}
		photoErr = fmt.Errorf("embed photo %s: %w", student.Roll, pdf.Error())
		pdf.ClearError()
		drawPhotoPlaceholder(pdf, photoX, photoY)
	default:
		if !errors.Is(err, ErrPhotoNotFound) {
			photoErr = err
		}
		drawPhotoPlaceholder(pdf, photoX, photoY)
	}

	textX := photoX + photoSize + 3
	textW := x + w - textX - 2
	name := student.Name
	pdf.SetFont("Arial", "B", 10)
	lines := pdf.SplitLines([]byte(name), textW)
	if len(lines) > 2 {
		lines = lines[:2]
	}
	ty := y + 4
	for _, line := range lines {
		pdf.SetXY(textX, ty)
		pdf.CellFormat(textW, 5, strings.TrimSpace(string(line)), "", 0, "L", false, 0, "")
		ty += 5
	}
	pdf.SetFont("Arial", "", 9)
	pdf.SetXY(textX, ty)
	pdf.CellFormat(textW, 5, "Roll: "+student.Roll, "", 0, "L", false, 0, "")

	signY := y + cardHeight - 6
	pdf.SetXY(textX, signY-4)
	pdf.CellFormat(10, 5, "Sign:", "", 0, "L", false, 0, "")
	pdf.Line(textX+11, signY, x+w-2, signY)
	return photoErr
}

func drawPhotoPlaceholder(pdf *gofpdf.Fpdf, x, y float64) {
	pdf.Rect(x, y, photoSize, photoSize, "D")
	pdf.SetFont("Arial", "", 7)
	pdf.SetXY(x, y+photoSize/2-2)
	pdf.CellFormat(photoSize, 4, "No Image", "", 0, "C", false, 0, "")
}

func (r *AttendanceRenderer) drawInvigilators(pdf *gofpdf.Fpdf, y, pageW float64) {
	pdf.SetXY(sheetMargin, y)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(pageW-2*sheetMargin, 6, "Invigilator Name & Signature", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 10)
	colW := []float64{20, (pageW - 2*sheetMargin - 20) * 0.6, (pageW - 2*sheetMargin - 20) * 0.4}
	pdf.SetX(sheetMargin)
	for i, header := range []string{"Sl No.", "Name", "Signature"} {
		pdf.CellFormat(colW[i], 7, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for i := 1; i <= invigilatorRows; i++ {
		pdf.SetX(sheetMargin)
		pdf.CellFormat(colW[0], 8, fmt.Sprintf("%d", i), "1", 0, "C", false, 0, "")
		pdf.CellFormat(colW[1], 8, "", "1", 0, "", false, 0, "")
		pdf.CellFormat(colW[2], 8, "", "1", 0, "", false, 0, "")
		pdf.Ln(-1)
	}
}

// AttendanceFileName builds <YYYY_MM_DD>_<Session>_R<room>_<course>.pdf.
func AttendanceFileName(date, session, room, course string) string {
	return fmt.Sprintf("%s_%s_R%s_%s.pdf", strings.ReplaceAll(date, "-", "_"), session, sanitizeName(room), sanitizeName(course))
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
