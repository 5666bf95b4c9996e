package ingest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docstore-backend/internal/jobs"
	"docstore-backend/internal/shared/server/middleware"
	"docstore-backend/internal/shared/server/respond"
)

// multipartOverhead is the allowance for form fields and boundaries on top of the file.
const multipartOverhead = 1 << 20

// Submitter is the part of Scheduler the handler needs.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
}

// Handler exposes ingestion over HTTP.
type Handler struct {
	Scheduler      Submitter
	Jobs           *jobs.Service
	MaxUploadBytes int64
}

// NewHandler constructs a Handler.
func NewHandler(scheduler Submitter, jobsSvc *jobs.Service, maxUploadBytes int64) *Handler {
	return &Handler{Scheduler: scheduler, Jobs: jobsSvc, MaxUploadBytes: maxUploadBytes}
}

// RegisterRoutes attaches ingestion routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/ingestions", h.submit)
	rg.GET("/ingestions/:jobId/status", h.status)
	rg.GET("/ingestions/:jobId/result", h.result)
}

func (h *Handler) submit(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes+multipartOverhead)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(c)
			return
		}
		respond.Error(c, http.StatusBadRequest, "validation_error", "file is required", nil)
		return
	}
	if fileHeader.Size > h.MaxUploadBytes {
		h.tooLarge(c)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, h.MaxUploadBytes+1))
	if err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "unable to read file", nil)
		return
	}

	isPublic, _ := strconv.ParseBool(c.PostForm("isPublic"))
	jobID, err := h.Scheduler.Submit(c.Request.Context(), SubmitRequest{
		OwnerID:      userID,
		Filename:     fileHeader.Filename,
		DisplayName:  c.PostForm("displayName"),
		DeclaredSize: fileHeader.Size,
		Source:       BytesSource(data),
		IsPublic:     isPublic,
		DocumentType: c.PostForm("documentType"),
		Permissions:  formList(c, "permissions"),
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSizeExceeded):
			h.tooLarge(c)
		case errors.Is(err, ErrSaturated), errors.Is(err, ErrShuttingDown):
			respond.Retryable(c, http.StatusServiceUnavailable, "saturated", "ingestion queue is full, retry later", time.Second, nil)
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start ingestion", nil)
		}
		return
	}

	c.Set("jobId", jobID)
	c.Set("statusTransition", "->processing")
	respond.Accepted(c, jobID, string(jobs.StatusProcessing))
}

func (h *Handler) tooLarge(c *gin.Context) {
	respond.Error(c, http.StatusRequestEntityTooLarge, "file_too_large", "file size exceeds limit", gin.H{
		"maxBytes": h.MaxUploadBytes,
	})
}

func (h *Handler) status(c *gin.Context) {
	jobID := c.Param("jobId")
	c.Set("jobId", jobID)
	view, err := h.Jobs.Status(c.Request.Context(), middleware.UserIDFromContext(c), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch job status", nil)
		return
	}
	respond.OK(c, view)
}

func (h *Handler) result(c *gin.Context) {
	jobID := c.Param("jobId")
	c.Set("jobId", jobID)
	view, err := h.Jobs.Result(c.Request.Context(), middleware.UserIDFromContext(c), jobID)
	var failed *jobs.FailedError
	switch {
	case err == nil:
		c.Set("documentId", view.DocumentID)
		respond.OK(c, view)
	case errors.Is(err, jobs.ErrStillProcessing):
		respond.Accepted(c, jobID, string(jobs.StatusProcessing))
	case errors.As(err, &failed):
		respond.Error(c, http.StatusUnprocessableEntity, "ingestion_failed", failed.Message, gin.H{
			"jobId":  jobID,
			"status": jobs.StatusFailed,
		})
	case errors.Is(err, jobs.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "job not found", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch job result", nil)
	}
}

// formList accepts repeated fields and comma separated values.
func formList(c *gin.Context, key string) []string {
	var out []string
	for _, v := range c.PostFormArray(key) {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
