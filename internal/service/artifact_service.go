package service

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/exam-seating-api/internal/models"
	"github.com/noah-isme/exam-seating-api/pkg/export"
)

// Artifact file names written at the top of the output directory.
const (
	OverallRosterFile  = "op_overall_seating_arrangement"
	SeatsLeftFile      = "op_seats_left"
	SlotRosterFile     = "seating_arrangement.csv"
	attendanceTitleFmt = "Examination Attendance Sheet %s"
)

type fileWriter interface {
	Save(filename string, data []byte) (string, error)
}

type tableRenderer interface {
	Render(rows interface{}) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

type attendanceRenderer interface {
	Render(sheet export.AttendanceSheet) ([]byte, []error, error)
}

type renderMetrics interface {
	IncSignal(kind models.SignalKind)
	ObserveRender(ok bool)
}

// ArtifactConfig tunes artifact rendering.
type ArtifactConfig struct {
	RenderWorkers int
	Title         string
}

// ArtifactTargets are the destinations of one artifact pass. Attendance may
// be nil to skip attendance sheets.
type ArtifactTargets struct {
	Output     fileWriter
	Attendance fileWriter
	Photos     *export.PhotoSource
}

// ArtifactResult lists written files and the render signals raised.
type ArtifactResult struct {
	Files   []string
	Signals []models.Signal
}

// ArtifactService renders a plan into CSV, PDF and attendance documents.
type ArtifactService struct {
	csv     tableRenderer
	pdf     pdfRenderer
	metrics renderMetrics
	logger  *zap.Logger
	cfg     ArtifactConfig

	newAttendance func(*export.PhotoSource) attendanceRenderer
}

// NewArtifactService constructs an ArtifactService.
func NewArtifactService(csv tableRenderer, pdf pdfRenderer, metrics renderMetrics, logger *zap.Logger, cfg ArtifactConfig) *ArtifactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	if cfg.RenderWorkers <= 0 {
		cfg.RenderWorkers = 1
	}
	return &ArtifactService{
		csv:     csv,
		pdf:     pdf,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		newAttendance: func(photos *export.PhotoSource) attendanceRenderer {
			return export.NewAttendanceRenderer(photos)
		},
	}
}

// WithLogger returns a copy of the service writing to logger.
func (s *ArtifactService) WithLogger(logger *zap.Logger) *ArtifactService {
	if logger == nil {
		return s
	}
	clone := *s
	clone.logger = logger
	return &clone
}

// Write renders every artifact of plan. Summary tables failing to render or
// save abort the pass; attendance failures are reported as signals and the
// remaining sheets are still produced.
func (s *ArtifactService) Write(ctx context.Context, plan *models.Plan, targets ArtifactTargets) (*ArtifactResult, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan nil")
	}
	if targets.Output == nil {
		return nil, fmt.Errorf("output target missing")
	}
	result := &ArtifactResult{}

	if err := s.writeTable(targets.Output, OverallRosterFile, plan.Rosters, "Overall Seating Arrangement", result); err != nil {
		return nil, err
	}
	if err := s.writeTable(targets.Output, SeatsLeftFile, plan.Usage, "Seats Left", result); err != nil {
		return nil, err
	}
	if err := s.writeSlotRosters(targets.Output, plan.Rosters, result); err != nil {
		return nil, err
	}

	if targets.Attendance != nil {
		if err := s.writeAttendance(ctx, plan.Rosters, targets, result); err != nil {
			return nil, err
		}
	}

	sort.Strings(result.Files)
	s.logger.Info("artifacts written",
		zap.Int("files", len(result.Files)),
		zap.Int("render_signals", len(result.Signals)),
	)
	return result, nil
}

func (s *ArtifactService) writeTable(out fileWriter, base string, rows interface{}, title string, result *ArtifactResult) error {
	csvBytes, err := s.csv.Render(rows)
	if err != nil {
		return fmt.Errorf("render %s csv: %w", base, err)
	}
	name, err := out.Save(base+".csv", csvBytes)
	if err != nil {
		return fmt.Errorf("save %s csv: %w", base, err)
	}
	result.Files = append(result.Files, name)

	dataset, err := export.DatasetOf(rows)
	if err != nil {
		return fmt.Errorf("build %s dataset: %w", base, err)
	}
	if s.cfg.Title != "" {
		title = s.cfg.Title + " - " + title
	}
	pdfBytes, err := s.pdf.Render(dataset, title)
	if err != nil {
		return fmt.Errorf("render %s pdf: %w", base, err)
	}
	name, err = out.Save(base+".pdf", pdfBytes)
	if err != nil {
		return fmt.Errorf("save %s pdf: %w", base, err)
	}
	result.Files = append(result.Files, name)
	return nil
}

func (s *ArtifactService) writeSlotRosters(out fileWriter, rosters []models.RosterRow, result *ArtifactResult) error {
	var slots []models.Slot
	bySlot := make(map[models.Slot][]models.RosterRow)
	for _, row := range rosters {
		slot := row.Slot()
		if _, ok := bySlot[slot]; !ok {
			slots = append(slots, slot)
		}
		bySlot[slot] = append(bySlot[slot], row)
	}
	sortSlots(slots)

	for _, slot := range slots {
		payload, err := s.csv.Render(bySlot[slot])
		if err != nil {
			return fmt.Errorf("render %s roster: %w", slot, err)
		}
		name, err := out.Save(path.Join(slot.Date, string(slot.Session), SlotRosterFile), payload)
		if err != nil {
			return fmt.Errorf("save %s roster: %w", slot, err)
		}
		result.Files = append(result.Files, name)
	}
	return nil
}

type attendanceJob struct {
	row  models.RosterRow
	file string
}

func (s *ArtifactService) writeAttendance(ctx context.Context, rosters []models.RosterRow, targets ArtifactTargets, result *ArtifactResult) error {
	jobs := attendanceJobs(rosters)
	renderer := s.newAttendance(targets.Photos)
	recorder := NewSignalRecorder(s.logger, s.metrics)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RenderWorkers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			name, signals := s.renderSheet(renderer, targets.Attendance, job)
			recorder.Record(signals...)
			if name != "" {
				mu.Lock()
				result.Files = append(result.Files, name)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	result.Signals = append(result.Signals, recorder.Signals()...)
	sortSignals(result.Signals)
	return nil
}

func (s *ArtifactService) renderSheet(renderer attendanceRenderer, out fileWriter, job attendanceJob) (string, []models.Signal) {
	row := job.row
	students := row.Students
	sheet := export.AttendanceSheet{
		Title:    s.sheetTitle(),
		Date:     row.Date,
		Session:  row.Session.Title(),
		Room:     row.Room,
		Course:   row.Course,
		Students: make([]export.AttendanceStudent, len(students)),
	}
	for i, st := range students {
		sheet.Students[i] = export.AttendanceStudent{Roll: st.Roll, Name: st.Name}
	}

	var signals []models.Signal
	payload, photoErrs, err := renderer.Render(sheet)
	for _, photoErr := range photoErrs {
		signals = append(signals, renderSignal(row, models.SeverityWarn, fmt.Sprintf("photo skipped on %s: %v", job.file, photoErr)))
	}
	if err == nil {
		_, err = out.Save(job.file, payload)
	}
	if s.metrics != nil {
		s.metrics.ObserveRender(err == nil)
	}
	if err != nil {
		signals = append(signals, renderSignal(row, models.SeverityError, fmt.Sprintf("attendance sheet %s not produced: %v", job.file, err)))
		return "", signals
	}
	return job.file, signals
}

func (s *ArtifactService) sheetTitle() string {
	if s.cfg.Title == "" {
		return ""
	}
	return fmt.Sprintf(attendanceTitleFmt, s.cfg.Title)
}

// attendanceJobs names one sheet per roster row. Rows sharing a room number
// across buildings get the building folded into the room part of the name.
func attendanceJobs(rosters []models.RosterRow) []attendanceJob {
	counts := make(map[string]int, len(rosters))
	names := make([]string, len(rosters))
	for i, row := range rosters {
		names[i] = path.Join(row.Date, string(row.Session),
			export.AttendanceFileName(row.Date, row.Session.Title(), row.Room, row.Course))
		counts[names[i]]++
	}
	jobs := make([]attendanceJob, len(rosters))
	for i, row := range rosters {
		name := names[i]
		if counts[name] > 1 {
			name = path.Join(row.Date, string(row.Session),
				export.AttendanceFileName(row.Date, row.Session.Title(), row.Building+"-"+row.Room, row.Course))
		}
		jobs[i] = attendanceJob{row: row, file: name}
	}
	return jobs
}

func renderSignal(row models.RosterRow, severity models.SignalSeverity, msg string) models.Signal {
	return models.Signal{
		Kind:     models.SignalRender,
		Severity: severity,
		Date:     row.Date,
		Session:  row.Session,
		Courses:  []string{row.Course},
		Room:     models.RoomKey{Building: row.Building, Room: row.Room}.String(),
		Message:  msg,
	}
}

// sortSignals orders render signals by slot, room and course so reports do
// not depend on worker scheduling.
func sortSignals(signals []models.Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i], signals[j]
		if a.Slot() != b.Slot() {
			return a.Slot().Less(b.Slot())
		}
		if a.Room != b.Room {
			return a.Room < b.Room
		}
		return firstCourse(a) < firstCourse(b)
	})
}

func firstCourse(sig models.Signal) string {
	if len(sig.Courses) == 0 {
		return ""
	}
	return sig.Courses[0]
}
