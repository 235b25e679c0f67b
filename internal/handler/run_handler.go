package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/exam-seating-api/internal/dto"
	"github.com/noah-isme/exam-seating-api/internal/models"
	"github.com/noah-isme/exam-seating-api/internal/service"
	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
	"github.com/noah-isme/exam-seating-api/pkg/response"
)

type runService interface {
	Create(ctx context.Context, req dto.CreateRunRequest, upload io.Reader, actorID string) (*dto.RunResponse, error)
	Get(ctx context.Context, id string) (*dto.RunStatusResponse, error)
	List(ctx context.Context, query dto.ListRunsQuery) ([]dto.RunStatusResponse, *models.Pagination, error)
	Rosters(ctx context.Context, id string) ([]models.RosterRow, error)
	Usage(ctx context.Context, id string) ([]models.UsageRow, error)
	Signals(ctx context.Context, id string, kind models.SignalKind) ([]models.Signal, error)
	ResolveDownload(ctx context.Context, token string) (*service.RunDownload, error)
}

const anonymousActor = "anonymous"

// RunHandler exposes seating run endpoints.
type RunHandler struct {
	service runService
}

// NewRunHandler constructs the handler.
func NewRunHandler(svc runService) *RunHandler {
	return &RunHandler{service: svc}
}

// Create godoc
// @Summary Start a seating run
// @Description Upload a zip bundle with the four input tables (and an optional photos folder). Planning runs asynchronously.
// @Tags Runs
// @Accept multipart/form-data
// @Produce json
// @Param bundle formData file true "Input bundle (.zip)"
// @Param buffer formData int false "Seats held back per room"
// @Param mode formData string false "Density mode" Enums(sparse, dense)
// @Param attendance formData bool false "Render attendance sheets"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /runs [post]
func (h *RunHandler) Create(c *gin.Context) {
	var req dto.CreateRunRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid run form"))
		return
	}
	header, err := c.FormFile("bundle")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "bundle file is required"))
		return
	}
	file, err := header.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read bundle"))
		return
	}
	defer file.Close() //nolint:errcheck

	actor := anonymousActor
	if claims := claimsFromContext(c); claims != nil {
		actor = claims.UserID
	}
	resp, err := h.service.Create(c.Request.Context(), req, file, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, resp, nil)
}

// List godoc
// @Summary List seating runs
// @Tags Runs
// @Produce json
// @Param status query string false "Run status" Enums(QUEUED, PROCESSING, FINISHED, FAILED)
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /runs [get]
func (h *RunHandler) List(c *gin.Context) {
	var query dto.ListRunsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid query"))
		return
	}
	runs, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, runs, pagination)
}

// Get godoc
// @Summary Seating run status
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /runs/{id} [get]
func (h *RunHandler) Get(c *gin.Context) {
	run, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, run, nil)
}

// Rosters godoc
// @Summary Room rosters of a finished run
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /runs/{id}/rosters [get]
func (h *RunHandler) Rosters(c *gin.Context) {
	rows, err := h.service.Rosters(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil, map[string]interface{}{"count": len(rows)})
}

// Usage godoc
// @Summary Seat usage of a finished run
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /runs/{id}/usage [get]
func (h *RunHandler) Usage(c *gin.Context) {
	rows, err := h.service.Usage(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil, map[string]interface{}{"count": len(rows)})
}

// Signals godoc
// @Summary Clashes, warnings and errors of a finished run
// @Tags Runs
// @Produce json
// @Param id path string true "Run ID"
// @Param kind query string false "Signal kind" Enums(CLASH, CAPACITY, UNSEATED, DUPLICATE_ENROLLMENT, RENDER)
// @Success 200 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /runs/{id}/signals [get]
func (h *RunHandler) Signals(c *gin.Context) {
	kind := models.SignalKind(strings.ToUpper(strings.TrimSpace(c.Query("kind"))))
	signals, err := h.service.Signals(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, signals, nil, map[string]interface{}{"count": len(signals)})
}

// Download godoc
// @Summary Download the artifact bundle of a run
// @Tags Runs
// @Produce application/zip
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /runs/download/{token} [get]
func (h *RunHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	info, err := result.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat run bundle"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), "application/zip", result.File, nil)
}
