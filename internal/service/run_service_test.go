package service

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/exam-seating-api/internal/dto"
	"github.com/noah-isme/exam-seating-api/internal/models"
	"github.com/noah-isme/exam-seating-api/internal/repository"
	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
	"github.com/noah-isme/exam-seating-api/pkg/jobs"
	"github.com/noah-isme/exam-seating-api/pkg/storage"
)

type runRepoStub struct {
	runs    map[string]*models.Run
	deleted []string
}

func newRunRepoStub() *runRepoStub {
	return &runRepoStub{runs: map[string]*models.Run{}}
}

func (r *runRepoStub) Create(ctx context.Context, run *models.Run) error {
	copied := *run
	r.runs[run.ID] = &copied
	return nil
}

func (r *runRepoStub) GetByID(ctx context.Context, id string) (*models.Run, error) {
	run, ok := r.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *run
	return &copied, nil
}

func (r *runRepoStub) Update(ctx context.Context, id string, params repository.UpdateRunParams) error {
	run, ok := r.runs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		run.Status = *params.Status
	}
	if params.Progress != nil {
		run.Progress = *params.Progress
	}
	if params.Summary != nil {
		run.Summary = *params.Summary
	}
	if params.ResultURL != nil {
		run.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		run.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		run.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *runRepoStub) List(ctx context.Context, filter models.RunFilter) ([]models.Run, int, error) {
	var out []models.Run
	for _, run := range r.runs {
		if filter.Status == nil || run.Status == *filter.Status {
			out = append(out, *run)
		}
	}
	return out, len(out), nil
}

func (r *runRepoStub) ListQueued(ctx context.Context, limit int) ([]models.Run, error) {
	status := models.RunStatusQueued
	runs, _, err := r.List(ctx, models.RunFilter{Status: &status})
	return runs, err
}

func (r *runRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Run, error) {
	var out []models.Run
	for _, run := range r.runs {
		if run.FinishedAt != nil && run.FinishedAt.Before(cutoff) {
			out = append(out, *run)
		}
	}
	return out, nil
}

func (r *runRepoStub) Delete(ctx context.Context, id string) error {
	delete(r.runs, id)
	r.deleted = append(r.deleted, id)
	return nil
}

type runQueueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *runQueueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type runMetricsStub struct {
	statuses []models.RunStatus
}

func (m *runMetricsStub) ObserveRun(status models.RunStatus) {
	m.statuses = append(m.statuses, status)
}

// planCacheStub round-trips plans through JSON like the Redis cache does.
type planCacheStub struct {
	plans map[string][]byte
	hits  int
}

func (c *planCacheStub) GetPlan(ctx context.Context, key string) *models.Plan {
	raw, ok := c.plans[key]
	if !ok {
		return nil
	}
	var plan models.Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil
	}
	c.hits++
	return &plan
}

func (c *planCacheStub) SetPlan(ctx context.Context, key string, plan *models.Plan) error {
	raw, err := json.Marshal(plan)
	if err != nil {
		return err
	}
	c.plans[key] = raw
	return nil
}

func seatingBundleZip(t *testing.T, withRooms bool) []byte {
	t.Helper()
	files := map[string]string{
		"exam/in_timetable.csv":           "Date,Day,Morning,Evening\n2016-05-04,Wed,CS101;MA101,NO EXAM\n",
		"exam/in_course_roll_mapping.csv": "rollno,course_code\nR1,CS101\nR2,CS101\nR3,MA101\n",
		"exam/in_roll_name_mapping.csv":   "Roll,Name\nR1,Asha\nR2,Bima\n",
	}
	if withRooms {
		files["exam/in_room_capacity.csv"] = "Room No.,Exam Capacity,Block\n101,10,B1\n102,10,B1\n"
	}
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type runFixture struct {
	svc     *RunService
	worker  *RunWorker
	repo    *runRepoStub
	queue   *runQueueStub
	files   *storage.LocalStorage
	cache   *planCacheStub
	metrics *runMetricsStub
}

func newRunFixture(t *testing.T) *runFixture {
	t.Helper()
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	f := &runFixture{
		repo:    newRunRepoStub(),
		queue:   &runQueueStub{},
		files:   files,
		cache:   &planCacheStub{plans: map[string][]byte{}},
		metrics: &runMetricsStub{},
	}
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	f.svc = NewRunService(f.repo, files, f.queue, signer, f.metrics, nil, zap.NewNop(), RunServiceConfig{
		DefaultBuffer:  0,
		DefaultMode:    models.ModeSparse,
		MaxUploadBytes: 1 << 20,
		ResultTTL:      time.Hour,
	})
	f.worker = NewRunWorker(f.repo, files, nil, nil, f.cache, signer, f.metrics, zap.NewNop(), RunWorkerConfig{APIPrefix: "/api/v1"})
	return f
}

func (f *runFixture) create(t *testing.T, data []byte) string {
	t.Helper()
	resp, err := f.svc.Create(context.Background(), dto.CreateRunRequest{}, bytes.NewReader(data), "user-1")
	require.NoError(t, err)
	return resp.ID
}

func TestRunServiceCreateQueuesRun(t *testing.T) {
	f := newRunFixture(t)
	data := seatingBundleZip(t, true)
	buffer := 2

	resp, err := f.svc.Create(context.Background(), dto.CreateRunRequest{Buffer: &buffer, Mode: "DENSE"}, bytes.NewReader(data), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, resp.Status)

	run := f.repo.runs[resp.ID]
	require.NotNil(t, run)
	assert.Equal(t, models.RunParams{Buffer: 2, Mode: models.ModeDense}, run.Params.RunParams)
	assert.True(t, run.Params.Attendance)
	assert.Len(t, run.InputHash, 64)
	assert.Equal(t, path.Join(resp.ID, "input.zip"), run.InputPath)

	stored, err := f.files.ReadFile(run.InputPath)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, resp.ID, f.queue.jobs[0].ID)
	assert.Equal(t, []models.RunStatus{models.RunStatusQueued}, f.metrics.statuses)
}

func TestRunServiceCreateValidation(t *testing.T) {
	f := newRunFixture(t)
	negative := -1

	_, err := f.svc.Create(context.Background(), dto.CreateRunRequest{Buffer: &negative}, bytes.NewReader([]byte("zip")), "user-1")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = f.svc.Create(context.Background(), dto.CreateRunRequest{Mode: "tight"}, bytes.NewReader([]byte("zip")), "user-1")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	_, err = f.svc.Create(context.Background(), dto.CreateRunRequest{}, bytes.NewReader(nil), "user-1")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))

	assert.Empty(t, f.queue.jobs)
	assert.Empty(t, f.repo.runs)
}

func TestRunServiceCreateRejectsLargeUpload(t *testing.T) {
	f := newRunFixture(t)
	f.svc.cfg.MaxUploadBytes = 8

	_, err := f.svc.Create(context.Background(), dto.CreateRunRequest{}, strings.NewReader("0123456789"), "user-1")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPayloadTooLarge.Code))
	assert.Empty(t, f.repo.runs)
}

func TestRunServiceCreateEnqueueFailureMarksFailed(t *testing.T) {
	f := newRunFixture(t)
	f.queue.err = errors.New("queue closed")

	_, err := f.svc.Create(context.Background(), dto.CreateRunRequest{}, bytes.NewReader(seatingBundleZip(t, true)), "user-1")
	require.Error(t, err)
	require.Len(t, f.repo.runs, 1)
	for _, run := range f.repo.runs {
		assert.Equal(t, models.RunStatusFailed, run.Status)
		require.NotNil(t, run.FinishedAt)
	}
}

func TestRunWorkerCompletesRun(t *testing.T) {
	f := newRunFixture(t)
	id := f.create(t, seatingBundleZip(t, true))

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: id}))

	status, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFinished, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Nil(t, status.Error)
	assert.Equal(t, 3, status.Summary.Seated)
	assert.Equal(t, 2, status.Summary.RosterRows)
	assert.Contains(t, status.Summary.Artifacts, "op_overall_seating_arrangement.csv")
	require.NotNil(t, status.ResultURL)
	assert.True(t, strings.HasPrefix(*status.ResultURL, "/api/v1/runs/download/"))

	rosters, err := f.svc.Rosters(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, rosters, 2)
	assert.Equal(t, "CS101", rosters[0].Course)
	assert.Equal(t, "R1;R2", rosters[0].Rolls)
	assert.Equal(t, "Asha;Bima", rosters[0].Names)
	assert.Equal(t, models.UnknownName, rosters[1].Names)

	usage, err := f.svc.Usage(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, 3, usage[0].Used)
	assert.Equal(t, 2, usage[0].Left)

	token := (*status.ResultURL)[strings.LastIndex(*status.ResultURL, "/")+1:]
	download, err := f.svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "seating_"+id+".zip", download.Filename)

	info, err := download.File.Stat()
	require.NoError(t, err)
	zr, err := zip.NewReader(download.File, info.Size())
	require.NoError(t, err)
	names := map[string]bool{}
	for _, file := range zr.File {
		names[file.Name] = true
	}
	assert.True(t, names["output/op_overall_seating_arrangement.csv"])
	assert.True(t, names["output/op_seats_left.pdf"])
	assert.True(t, names["output/2016-05-04/morning/seating_arrangement.csv"])
	assert.True(t, names["attendance_pdfs/2016-05-04/morning/2016_05_04_Morning_R101_CS101.pdf"])
	assert.True(t, names["logs/execution.log"])
	assert.True(t, names["logs/errors.log"])

	assert.Equal(t, []models.RunStatus{models.RunStatusQueued, models.RunStatusProcessing, models.RunStatusFinished}, f.metrics.statuses)
}

func TestRunWorkerServesRepeatedInputFromCache(t *testing.T) {
	f := newRunFixture(t)
	data := seatingBundleZip(t, true)
	first := f.create(t, data)
	second := f.create(t, data)

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: first}))
	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: second}))
	assert.Equal(t, 1, f.cache.hits)

	a, err := f.svc.Rosters(context.Background(), first)
	require.NoError(t, err)
	b, err := f.svc.Rosters(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRunWorkerConfigurationErrorFailsRun(t *testing.T) {
	f := newRunFixture(t)
	id := f.create(t, seatingBundleZip(t, false))

	err := f.worker.Handle(context.Background(), jobs.Job{ID: id})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
	assert.True(t, appErrors.IsCode(err, appErrors.ErrConfiguration.Code))

	f.worker.GiveUp(jobs.Job{ID: id}, err)
	run := f.repo.runs[id]
	assert.Equal(t, models.RunStatusFailed, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "in_room_capacity.csv")

	errLog, readErr := f.files.ReadFile(path.Join(id, "result", "logs", "errors.log"))
	require.NoError(t, readErr)
	assert.Contains(t, string(errLog), "configuration error")

	_, err = f.svc.Rosters(context.Background(), id)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrPreconditionFailed.Code))
}

func TestRunWorkerSkipsCompletedRuns(t *testing.T) {
	f := newRunFixture(t)
	id := f.create(t, seatingBundleZip(t, true))
	f.repo.runs[id].Status = models.RunStatusFinished

	require.NoError(t, f.worker.Handle(context.Background(), jobs.Job{ID: id}))
	assert.Equal(t, []models.RunStatus{models.RunStatusQueued}, f.metrics.statuses)

	err := f.worker.Handle(context.Background(), jobs.Job{ID: "missing"})
	require.Error(t, err)
	assert.True(t, jobs.IsPermanent(err))
}

func TestRunServiceGetMissing(t *testing.T) {
	f := newRunFixture(t)
	_, err := f.svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))
}

func TestRunServiceResolveDownloadRejectsBadTokens(t *testing.T) {
	f := newRunFixture(t)
	id := f.create(t, seatingBundleZip(t, true))

	_, err := f.svc.ResolveDownload(context.Background(), "garbage")
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrForbidden.Code))

	token, _, err := f.svc.signer.Sign(id, path.Join(id, "bundle.zip"))
	require.NoError(t, err)
	_, err = f.svc.ResolveDownload(context.Background(), token)
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrForbidden.Code))
}

func TestRunServiceSignalsFilter(t *testing.T) {
	f := newRunFixture(t)
	id := f.create(t, seatingBundleZip(t, true))
	run := f.repo.runs[id]
	run.Status = models.RunStatusFinished
	plan := models.Plan{Signals: []models.Signal{
		{Kind: models.SignalClash, Message: "clash"},
		{Kind: models.SignalRender, Message: "render"},
	}}
	raw, err := json.Marshal(plan)
	require.NoError(t, err)
	_, err = f.files.Save(path.Join(id, "plan.json"), raw)
	require.NoError(t, err)

	all, err := f.svc.Signals(context.Background(), id, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	clashes, err := f.svc.Signals(context.Background(), id, models.SignalClash)
	require.NoError(t, err)
	require.Len(t, clashes, 1)
	assert.Equal(t, "clash", clashes[0].Message)
}

func TestRunServiceListPaginates(t *testing.T) {
	f := newRunFixture(t)
	f.create(t, seatingBundleZip(t, true))
	f.create(t, seatingBundleZip(t, true))

	runs, page, err := f.svc.List(context.Background(), dto.ListRunsQuery{Status: "QUEUED"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, 2, page.TotalCount)

	_, _, err = f.svc.List(context.Background(), dto.ListRunsQuery{Status: "DONE"})
	require.Error(t, err)
	assert.True(t, appErrors.IsCode(err, appErrors.ErrValidation.Code))
}

func TestRunServiceRecoverAndCleanup(t *testing.T) {
	f := newRunFixture(t)
	queued := f.create(t, seatingBundleZip(t, true))
	old := f.create(t, seatingBundleZip(t, true))
	finishedAt := time.Now().Add(-2 * time.Hour)
	f.repo.runs[old].Status = models.RunStatusFinished
	f.repo.runs[old].FinishedAt = &finishedAt
	f.queue.jobs = nil

	f.svc.RecoverPendingJobs(context.Background())
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, queued, f.queue.jobs[0].ID)

	f.svc.cleanupExpired(context.Background())
	assert.Equal(t, []string{old}, f.repo.deleted)
	_, err := os.Stat(f.files.Path(old))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(f.files.Path(queued))
	assert.NoError(t, err)
}
