package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/exam-seating-api/pkg/errors"
	"github.com/noah-isme/exam-seating-api/pkg/response"
)

type planCacheAdmin interface {
	Enabled() bool
	Invalidate(ctx context.Context) error
}

// CacheHandler exposes plan cache maintenance.
type CacheHandler struct {
	cache planCacheAdmin
}

// NewCacheHandler constructs the handler.
func NewCacheHandler(cache planCacheAdmin) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// Purge godoc
// @Summary Drop every cached seating plan
// @Tags Cache
// @Success 204
// @Failure 412 {object} response.Envelope
// @Router /cache/plans [delete]
func (h *CacheHandler) Purge(c *gin.Context) {
	if h.cache == nil || !h.cache.Enabled() {
		response.Error(c, appErrors.Clone(appErrors.ErrPreconditionFailed, "plan cache disabled"))
		return
	}
	if err := h.cache.Invalidate(c.Request.Context()); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
