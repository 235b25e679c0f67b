package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-seating-api/internal/models"
	"github.com/noah-isme/exam-seating-api/pkg/export"
	"github.com/noah-isme/exam-seating-api/pkg/storage"
)

type renderMetricsStub struct {
	mu      sync.Mutex
	ok      int
	failed  int
	signals int
}

func (m *renderMetricsStub) IncSignal(models.SignalKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signals++
}

func (m *renderMetricsStub) ObserveRender(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.ok++
		return
	}
	m.failed++
}

// failingCourseRenderer fails every sheet of one course.
type failingCourseRenderer struct {
	course string
	inner  attendanceRenderer
}

func (r failingCourseRenderer) Render(sheet export.AttendanceSheet) ([]byte, []error, error) {
	if sheet.Course == r.course {
		return nil, nil, errors.New("boom")
	}
	return r.inner.Render(sheet)
}

func fixturePlan(t *testing.T) *models.Plan {
	t.Helper()
	svc := NewSeatingService(nil, nil, nil, nil, SeatingConfig{SlotWorkers: 2})
	plan, err := svc.Plan(context.Background(), seatingFixtureInput(), models.RunParams{Mode: models.ModeDense})
	require.NoError(t, err)
	return plan
}

func newTargets(t *testing.T) (ArtifactTargets, string, string) {
	t.Helper()
	outDir := filepath.Join(t.TempDir(), "output")
	attDir := filepath.Join(t.TempDir(), "attendance_pdfs")
	out, err := storage.NewLocalStorage(outDir)
	require.NoError(t, err)
	att, err := storage.NewLocalStorage(attDir)
	require.NoError(t, err)
	return ArtifactTargets{Output: out, Attendance: att}, outDir, attDir
}

func TestArtifactServiceWritesAllDocuments(t *testing.T) {
	plan := fixturePlan(t)
	targets, outDir, attDir := newTargets(t)
	metrics := &renderMetricsStub{}
	svc := NewArtifactService(nil, nil, metrics, nil, ArtifactConfig{RenderWorkers: 3})

	result, err := svc.Write(context.Background(), plan, targets)
	require.NoError(t, err)
	assert.Empty(t, result.Signals)

	for _, name := range []string{
		"op_overall_seating_arrangement.csv",
		"op_overall_seating_arrangement.pdf",
		"op_seats_left.csv",
		"op_seats_left.pdf",
		"2016-05-04/morning/seating_arrangement.csv",
		"2016-05-05/morning/seating_arrangement.csv",
		"2016-05-05/evening/seating_arrangement.csv",
	} {
		assert.FileExists(t, filepath.Join(outDir, filepath.FromSlash(name)))
	}
	assert.NoFileExists(t, filepath.Join(outDir, "2016-05-04", "evening", SlotRosterFile))

	overall, err := os.ReadFile(filepath.Join(outDir, "op_overall_seating_arrangement.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(overall)), "\n")
	assert.Equal(t, "Date,Slot,Building,Room,CourseCode,RollNumbers,Names", lines[0])
	assert.Len(t, lines, len(plan.Rosters)+1)

	for _, row := range plan.Rosters {
		name := export.AttendanceFileName(row.Date, row.Session.Title(), row.Room, row.Course)
		assert.FileExists(t, filepath.Join(attDir, row.Date, string(row.Session), name))
	}
	assert.Equal(t, len(plan.Rosters), metrics.ok)
	assert.Zero(t, metrics.failed)
	assert.Len(t, result.Files, 7+len(plan.Rosters))
}

func TestArtifactServiceRenderFailureDoesNotStopSiblings(t *testing.T) {
	plan := fixturePlan(t)
	targets, _, attDir := newTargets(t)
	metrics := &renderMetricsStub{}
	svc := NewArtifactService(nil, nil, metrics, nil, ArtifactConfig{RenderWorkers: 2})
	svc.newAttendance = func(photos *export.PhotoSource) attendanceRenderer {
		return failingCourseRenderer{course: "PH101", inner: export.NewAttendanceRenderer(photos)}
	}

	result, err := svc.Write(context.Background(), plan, targets)
	require.NoError(t, err)

	failedRows := 0
	for _, row := range plan.Rosters {
		name := filepath.Join(attDir, row.Date, string(row.Session), export.AttendanceFileName(row.Date, row.Session.Title(), row.Room, row.Course))
		if row.Course == "PH101" {
			failedRows++
			assert.NoFileExists(t, name)
			continue
		}
		assert.FileExists(t, name)
	}
	require.Positive(t, failedRows)
	require.Len(t, result.Signals, failedRows)
	for _, sig := range result.Signals {
		assert.Equal(t, models.SignalRender, sig.Kind)
		assert.Equal(t, models.SeverityError, sig.Severity)
		assert.Equal(t, []string{"PH101"}, sig.Courses)
	}
	assert.Equal(t, failedRows, metrics.failed)
	assert.Equal(t, failedRows, metrics.signals)
}

func TestArtifactServiceSkipsAttendanceWithoutTarget(t *testing.T) {
	plan := fixturePlan(t)
	targets, _, attDir := newTargets(t)
	targets.Attendance = nil
	svc := NewArtifactService(nil, nil, nil, nil, ArtifactConfig{})

	result, err := svc.Write(context.Background(), plan, targets)
	require.NoError(t, err)
	assert.Len(t, result.Files, 7)

	entries, err := os.ReadDir(attDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAttendanceJobsDisambiguateRoomsAcrossBuildings(t *testing.T) {
	rows := []models.RosterRow{
		{Date: "2016-05-04", Session: models.SessionMorning, Building: "B1", Room: "101", Course: "CS101"},
		{Date: "2016-05-04", Session: models.SessionMorning, Building: "B2", Room: "101", Course: "CS101"},
		{Date: "2016-05-04", Session: models.SessionMorning, Building: "B2", Room: "102", Course: "CS101"},
	}
	jobs := attendanceJobs(rows)
	require.Len(t, jobs, 3)
	assert.Equal(t, "2016-05-04/morning/2016_05_04_Morning_RB1-101_CS101.pdf", jobs[0].file)
	assert.Equal(t, "2016-05-04/morning/2016_05_04_Morning_RB2-101_CS101.pdf", jobs[1].file)
	assert.Equal(t, "2016-05-04/morning/2016_05_04_Morning_R102_CS101.pdf", jobs[2].file)
}

type capturingRenderer struct {
	mu     sync.Mutex
	sheets []export.AttendanceSheet
}

func (r *capturingRenderer) Render(sheet export.AttendanceSheet) ([]byte, []error, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sheets = append(r.sheets, sheet)
	return []byte("%PDF"), nil, nil
}

func TestArtifactServiceAttendancePairsRollsWithTheirNames(t *testing.T) {
	plan := &models.Plan{Rosters: BuildRosterRows([]models.Allocation{
		{Date: testSlot.Date, Session: testSlot.Session, Building: "B1", Room: "101", Course: "CS101", Roll: "R1", Name: "Doe; Jane"},
		{Date: testSlot.Date, Session: testSlot.Session, Building: "B1", Room: "101", Course: "CS101", Roll: "R2", Name: "Asha"},
	})}
	targets, _, _ := newTargets(t)
	renderer := &capturingRenderer{}
	svc := NewArtifactService(nil, nil, nil, nil, ArtifactConfig{})
	svc.newAttendance = func(photos *export.PhotoSource) attendanceRenderer { return renderer }

	_, err := svc.Write(context.Background(), plan, targets)
	require.NoError(t, err)
	require.Len(t, renderer.sheets, 1)
	assert.Equal(t, []export.AttendanceStudent{{Roll: "R1", Name: "Doe; Jane"}, {Roll: "R2", Name: "Asha"}}, renderer.sheets[0].Students)
}
