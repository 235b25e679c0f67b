// Package csvio reads seating input bundles: four CSV tables plus an optional
// photos directory, from a directory or a zip archive.
package csvio

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/noah-isme/exam-seating-api/internal/models"
	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
)

// Table file names expected inside a bundle. Matching ignores case.
const (
	TimetableTable  = "in_timetable.csv"
	EnrollmentTable = "in_course_roll_mapping.csv"
	NameTable       = "in_roll_name_mapping.csv"
	RoomTable       = "in_room_capacity.csv"
	PhotosDir       = "photos"
)

var (
	rollAliases     = []string{"rollno", "roll", "roll_number"}
	courseAliases   = []string{"course_code", "coursecode"}
	nameAliases     = []string{"name", "studentname", "student_name"}
	roomAliases     = []string{"room no.", "roomno", "room_no", "room"}
	capacityAliases = []string{"exam capacity", "capacity", "cap"}
	buildingAliases = []string{"block", "building"}

	dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", "2006/01/02", "2006-01-02 15:04:05"}
)

// Bundle is a loaded input set.
type Bundle struct {
	Input  models.SeatingInput
	Photos fs.FS
}

// Open returns a filesystem for a bundle directory or .zip file. The closer
// must be called once the bundle is no longer read.
func Open(location string) (fs.FS, io.Closer, error) {
	info, err := os.Stat(location)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, fmt.Sprintf("input not found: %s", location))
	}
	if info.IsDir() {
		return os.DirFS(location), nopCloser{}, nil
	}
	rc, err := zip.OpenReader(location)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "input is neither a directory nor a zip archive")
	}
	return rc, rc, nil
}

// OpenZip exposes an in-memory zip archive as a filesystem.
func OpenZip(data []byte) (fs.FS, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "upload is not a valid zip archive")
	}
	return zr, nil
}

// Load locates and parses the four tables anywhere in fsys.
func Load(fsys fs.FS) (*Bundle, error) {
	files, photos, err := locate(fsys)
	if err != nil {
		return nil, err
	}

	timetable, err := readTable(fsys, files, TimetableTable)
	if err != nil {
		return nil, err
	}
	enrollments, err := readTable(fsys, files, EnrollmentTable)
	if err != nil {
		return nil, err
	}
	names, err := readTable(fsys, files, NameTable)
	if err != nil {
		return nil, err
	}
	rooms, err := readTable(fsys, files, RoomTable)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{}
	if bundle.Input.Timetable, err = parseTimetable(timetable); err != nil {
		return nil, err
	}
	if bundle.Input.Enrollments, err = parseEnrollments(enrollments); err != nil {
		return nil, err
	}
	if bundle.Input.Names, err = parseNames(names); err != nil {
		return nil, err
	}
	if bundle.Input.Rooms, err = parseRooms(rooms); err != nil {
		return nil, err
	}
	if photos != "" {
		if sub, subErr := fs.Sub(fsys, photos); subErr == nil {
			bundle.Photos = sub
		}
	}
	return bundle, nil
}

// locate maps lower-cased table names to their paths. The shallowest match
// wins so a bundle may be zipped with or without a wrapping folder.
func locate(fsys fs.FS) (map[string]string, string, error) {
	files := make(map[string]string)
	photos := ""
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		base := strings.ToLower(d.Name())
		if strings.HasPrefix(base, "__macosx") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if base == PhotosDir && (photos == "" || depth(p) < depth(photos)) {
				photos = p
			}
			return nil
		}
		if existing, ok := files[base]; !ok || depth(p) < depth(existing) {
			files[base] = p
		}
		return nil
	})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, "failed to read input bundle")
	}

	var missing []string
	for _, table := range []string{TimetableTable, EnrollmentTable, NameTable, RoomTable} {
		if _, ok := files[table]; !ok {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		return nil, "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("missing required tables in input: %s", strings.Join(missing, ", ")))
	}
	return files, photos, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func depth(p string) int {
	return strings.Count(path.Clean(p), "/")
}

// table is a parsed CSV table keyed by normalised header names.
type table struct {
	name   string
	header map[string]struct{}
	rows   []map[string]string
}

func readTable(fsys fs.FS, files map[string]string, name string) (table, error) {
	t := table{name: name, header: make(map[string]struct{})}
	f, err := fsys.Open(files[name])
	if err != nil {
		return t, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, fmt.Sprintf("failed to open %s", name))
	}
	defer f.Close()

	records, err := gocsv.DefaultCSVReader(f).ReadAll()
	if err != nil {
		return t, appErrors.Wrap(err, appErrors.ErrConfiguration.Code, appErrors.ErrConfiguration.Status, fmt.Sprintf("failed to parse %s", name))
	}
	if len(records) == 0 {
		return t, nil
	}

	keys := make([]string, len(records[0]))
	for i, h := range records[0] {
		keys[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		t.header[keys[i]] = struct{}{}
	}
	t.rows = make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(keys))
		for i, value := range record {
			if i < len(keys) {
				row[keys[i]] = strings.TrimSpace(value)
			}
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// column resolves the first alias present in the table header.
func (t table) column(field string, aliases ...string) (string, error) {
	for _, alias := range aliases {
		if _, ok := t.header[alias]; ok {
			return alias, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("%s must contain a %s column (one of %s)", t.name, field, strings.Join(aliases, ", ")))
}

func parseTimetable(t table) ([]models.TimetableRow, error) {
	dateCol, err := t.column("date", "date")
	if err != nil {
		return nil, err
	}
	morningCol, err := t.column("morning", "morning")
	if err != nil {
		return nil, err
	}
	eveningCol, err := t.column("evening", "evening")
	if err != nil {
		return nil, err
	}
	out := make([]models.TimetableRow, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, models.TimetableRow{
			Date:    NormalizeDate(row[dateCol]),
			Morning: row[morningCol],
			Evening: row[eveningCol],
		})
	}
	return out, nil
}

func parseEnrollments(t table) ([]models.Enrollment, error) {
	rollCol, err := t.column("roll", rollAliases[:2]...)
	if err != nil {
		return nil, err
	}
	courseCol, err := t.column("course", courseAliases...)
	if err != nil {
		return nil, err
	}
	out := make([]models.Enrollment, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, models.Enrollment{Roll: row[rollCol], Course: row[courseCol]})
	}
	return out, nil
}

func parseNames(t table) (map[string]string, error) {
	rollCol, err := t.column("roll", rollAliases...)
	if err != nil {
		return nil, err
	}
	nameCol, err := t.column("name", nameAliases...)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(t.rows))
	for _, row := range t.rows {
		if roll := row[rollCol]; roll != "" {
			out[roll] = row[nameCol]
		}
	}
	return out, nil
}

func parseRooms(t table) ([]models.RoomInput, error) {
	buildingCol, err := t.column("building", buildingAliases...)
	if err != nil {
		return nil, err
	}
	roomCol, err := t.column("room", roomAliases...)
	if err != nil {
		return nil, err
	}
	capCol, err := t.column("capacity", capacityAliases...)
	if err != nil {
		return nil, err
	}
	out := make([]models.RoomInput, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, models.RoomInput{
			Building:    row[buildingCol],
			Room:        row[roomCol],
			RawCapacity: parseCapacity(row[capCol]),
		})
	}
	return out, nil
}

// parseCapacity reads a seat count; anything unparseable or negative is 0.
func parseCapacity(raw string) int {
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0
		}
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
		return int(f)
	}
	return 0
}

// NormalizeDate renders recognised date layouts as YYYY-MM-DD and returns
// anything else trimmed.
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return raw
}
