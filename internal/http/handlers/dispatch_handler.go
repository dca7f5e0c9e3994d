// Dead-letter inspection endpoint.
//
// GET /api/v1/dispatch/dead-letters lists jobs that exhausted their retry
// budget, newest first, so staff can see which patients missed a reminder
// and follow up by phone. Rows age out via the retention sweep on the
// periodic trigger.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/risetaid/prima-sub012/internal/domain"
	"github.com/risetaid/prima-sub012/internal/repo"
	"github.com/risetaid/prima-sub012/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListDeadLettersResponse wraps a page of dead jobs and pagination info.
type ListDeadLettersResponse struct {
	Jobs       []domain.DeliveryJob `json:"jobs"`
	Pagination Pagination           `json:"pagination"`
}

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// ListDeadLetters returns a page of dead-lettered delivery jobs.
func (h *Handlers) ListDeadLetters(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	total, err := repo.CountDeadJobs(ctx, h.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	jobs, err := repo.ListDeadJobs(ctx, h.db, (page-1)*pageSize, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListDeadLettersResponse{
		Jobs: jobs,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
