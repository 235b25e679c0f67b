package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/exam-seating-api/internal/dto"
	"github.com/noah-isme/exam-seating-api/internal/middleware"
	"github.com/noah-isme/exam-seating-api/internal/models"
	"github.com/noah-isme/exam-seating-api/internal/service"
	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
)

type runServiceMock struct {
	createReq   dto.CreateRunRequest
	createBody  []byte
	createActor string
	createResp  *dto.RunResponse
	createErr   error
	statusResp  *dto.RunStatusResponse
	statusErr   error
	listQuery   dto.ListRunsQuery
	listResp    []dto.RunStatusResponse
	pagination  *models.Pagination
	rosters     []models.RosterRow
	usage       []models.UsageRow
	signalKind  models.SignalKind
	signals     []models.Signal
	readErr     error
	download    *service.RunDownload
	downloadErr error
}

func (m *runServiceMock) Create(ctx context.Context, req dto.CreateRunRequest, upload io.Reader, actorID string) (*dto.RunResponse, error) {
	m.createReq = req
	m.createActor = actorID
	body, err := io.ReadAll(upload)
	if err != nil {
		return nil, err
	}
	m.createBody = body
	return m.createResp, m.createErr
}

func (m *runServiceMock) Get(ctx context.Context, id string) (*dto.RunStatusResponse, error) {
	return m.statusResp, m.statusErr
}

func (m *runServiceMock) List(ctx context.Context, query dto.ListRunsQuery) ([]dto.RunStatusResponse, *models.Pagination, error) {
	m.listQuery = query
	return m.listResp, m.pagination, nil
}

func (m *runServiceMock) Rosters(ctx context.Context, id string) ([]models.RosterRow, error) {
	return m.rosters, m.readErr
}

func (m *runServiceMock) Usage(ctx context.Context, id string) ([]models.UsageRow, error) {
	return m.usage, m.readErr
}

func (m *runServiceMock) Signals(ctx context.Context, id string, kind models.SignalKind) ([]models.Signal, error) {
	m.signalKind = kind
	return m.signals, m.readErr
}

func (m *runServiceMock) ResolveDownload(ctx context.Context, token string) (*service.RunDownload, error) {
	return m.download, m.downloadErr
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func newUploadContext(t *testing.T, fields map[string]string, bundle []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for key, value := range fields {
		require.NoError(t, mw.WriteField(key, value))
	}
	if bundle != nil {
		part, err := mw.CreateFormFile("bundle", "input.zip")
		require.NoError(t, err)
		_, err = part.Write(bundle)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	c, w := newGinContext(http.MethodPost, "/runs", body.Bytes())
	c.Request.Header.Set("Content-Type", mw.FormDataContentType())
	return c, w
}

func TestRunHandlerCreateAcceptsUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &runServiceMock{
		createResp: &dto.RunResponse{ID: "run-1", Status: models.RunStatusQueued},
	}
	handler := NewRunHandler(mockSvc)

	c, w := newUploadContext(t, map[string]string{"buffer": "3", "mode": "dense", "attendance": "false"}, []byte("zip-bytes"))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "operator-1", Role: models.RoleOperator})

	handler.Create(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, "operator-1", mockSvc.createActor)
	require.Equal(t, []byte("zip-bytes"), mockSvc.createBody)
	require.NotNil(t, mockSvc.createReq.Buffer)
	require.Equal(t, 3, *mockSvc.createReq.Buffer)
	require.Equal(t, models.ModeDense, mockSvc.createReq.Mode)
	require.NotNil(t, mockSvc.createReq.Attendance)
	require.False(t, *mockSvc.createReq.Attendance)

	var payload struct {
		Data dto.RunResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "run-1", payload.Data.ID)
}

func TestRunHandlerCreateWithoutAuthUsesAnonymousActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &runServiceMock{createResp: &dto.RunResponse{ID: "run-2", Status: models.RunStatusQueued}}
	handler := NewRunHandler(mockSvc)

	c, w := newUploadContext(t, nil, []byte("zip"))
	handler.Create(c)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Equal(t, anonymousActor, mockSvc.createActor)
	require.Nil(t, mockSvc.createReq.Buffer)
}

func TestRunHandlerCreateRequiresBundle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRunHandler(&runServiceMock{})

	c, w := newUploadContext(t, map[string]string{"mode": "sparse"}, nil)
	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunHandlerCreatePropagatesServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRunHandler(&runServiceMock{createErr: appErrors.Clone(appErrors.ErrPayloadTooLarge, "bundle too large")})

	c, w := newUploadContext(t, nil, []byte("zip"))
	handler.Create(c)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestRunHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRunHandler(&runServiceMock{statusErr: appErrors.Clone(appErrors.ErrNotFound, "run not found")})

	c, w := newGinContext(http.MethodGet, "/runs/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunHandlerListBindsQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &runServiceMock{
		listResp:   []dto.RunStatusResponse{{ID: "run-1", Status: models.RunStatusFinished, Progress: 100}},
		pagination: &models.Pagination{Page: 2, PageSize: 5, TotalCount: 6},
	}
	handler := NewRunHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/runs?status=FINISHED&page=2&page_size=5", nil)
	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "FINISHED", mockSvc.listQuery.Status)
	require.Equal(t, 2, mockSvc.listQuery.Page)
	require.Equal(t, 5, mockSvc.listQuery.PageSize)
	require.Contains(t, w.Body.String(), `"pagination"`)
}

func TestRunHandlerSignalsNormalisesKind(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &runServiceMock{signals: []models.Signal{{Kind: models.SignalClash, Severity: models.SeverityError, Message: "clash"}}}
	handler := NewRunHandler(mockSvc)

	c, w := newGinContext(http.MethodGet, "/runs/run-1/signals?kind=clash", nil)
	c.Params = gin.Params{{Key: "id", Value: "run-1"}}
	handler.Signals(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, models.SignalClash, mockSvc.signalKind)
	require.Contains(t, w.Body.String(), `"count":1`)
}

func TestRunHandlerRostersBeforeFinish(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRunHandler(&runServiceMock{readErr: appErrors.Clone(appErrors.ErrPreconditionFailed, "run not finished")})

	c, w := newGinContext(http.MethodGet, "/runs/run-1/rosters", nil)
	c.Params = gin.Params{{Key: "id", Value: "run-1"}}
	handler.Rosters(c)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
}

func TestRunHandlerUsage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRunHandler(&runServiceMock{usage: []models.UsageRow{{Date: "2016-05-04", Session: models.SessionMorning, Building: "B1", Room: "101", PerCourseCapacity: 5, Used: 2, Left: 3}}})

	c, w := newGinContext(http.MethodGet, "/runs/run-1/usage", nil)
	c.Params = gin.Params{{Key: "id", Value: "run-1"}}
	handler.Usage(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"left":3`)
}

func TestRunHandlerDownload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	path := filepath.Join(t.TempDir(), "bundle.zip")
	require.NoError(t, os.WriteFile(path, []byte("zip-content"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	handler := NewRunHandler(&runServiceMock{download: &service.RunDownload{
		File:      file,
		Filename:  "seating_run-1.zip",
		ExpiresAt: time.Now().Add(time.Hour),
	}})

	c, w := newGinContext(http.MethodGet, "/runs/download/token", nil)
	c.Params = gin.Params{{Key: "token", Value: "token"}}
	handler.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/zip", w.Header().Get("Content-Type"))
	require.Contains(t, w.Header().Get("Content-Disposition"), "seating_run-1.zip")
	require.Equal(t, "zip-content", w.Body.String())
}

func TestRunHandlerDownloadForbidden(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewRunHandler(&runServiceMock{downloadErr: appErrors.Clone(appErrors.ErrForbidden, "invalid token")})

	c, w := newGinContext(http.MethodGet, "/runs/download/bad", nil)
	c.Params = gin.Params{{Key: "token", Value: "bad"}}
	handler.Download(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}
