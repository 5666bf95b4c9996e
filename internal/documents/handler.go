package documents

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"docstore-backend/internal/shared/server/middleware"
	"docstore-backend/internal/shared/server/respond"
	"docstore-backend/internal/shared/telemetry"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches document routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/documents", h.list)
	rg.GET("/documents/search", h.search)
	rg.GET("/documents/stats", h.stats)
	rg.GET("/documents/:documentId", h.get)
	rg.GET("/documents/:documentId/download", h.download)
	rg.DELETE("/documents/:documentId", h.delete)
	rg.PUT("/documents/:documentId/permissions", h.updatePermissions)
	rg.PUT("/documents/:documentId/processing", h.updateProcessing)
}

func (h *Handler) get(c *gin.Context) {
	doc, err := h.Svc.Get(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("documentId"))
	if err != nil {
		writeError(c, err, "failed to fetch document")
		return
	}
	respond.OK(c, ToView(doc, false))
}

func (h *Handler) list(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	docs, err := h.Svc.List(c.Request.Context(), middleware.UserIDFromContext(c), limit, offset)
	if err != nil {
		writeError(c, err, "failed to list documents")
		return
	}
	respond.OK(c, gin.H{"documents": toViews(docs), "limit": limit, "offset": offset})
}

func (h *Handler) search(c *gin.Context) {
	term := c.Query("q")
	docs, err := h.Svc.Search(c.Request.Context(), middleware.UserIDFromContext(c), term, queryInt(c, "limit", 20))
	if err != nil {
		writeError(c, err, "failed to search documents")
		return
	}
	respond.OK(c, gin.H{"documents": toViews(docs), "query": term})
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.Svc.Stats(c.Request.Context(), middleware.UserIDFromContext(c))
	if err != nil {
		writeError(c, err, "failed to compute stats")
		return
	}
	respond.OK(c, stats)
}

func (h *Handler) download(c *gin.Context) {
	doc, rc, err := h.Svc.Open(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("documentId"))
	if err != nil {
		writeError(c, err, "failed to download document")
		return
	}
	defer rc.Close()

	contentType := doc.MediaType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.OriginalFilename))
	if doc.SizeBytes > 0 {
		c.Header("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		telemetry.Warn("documents.download.interrupted", map[string]any{
			"document_id": doc.ID,
			"error":       err,
		})
	}
}

func (h *Handler) delete(c *gin.Context) {
	if err := h.Svc.Delete(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("documentId")); err != nil {
		writeError(c, err, "failed to delete document")
		return
	}
	respond.NoContent(c)
}

type permissionsRequest struct {
	Permissions []string `json:"permissions"`
	IsPublic    bool     `json:"isPublic"`
}

func (h *Handler) updatePermissions(c *gin.Context) {
	var req permissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	doc, err := h.Svc.SetPermissions(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("documentId"), req.Permissions, req.IsPublic)
	if err != nil {
		writeError(c, err, "failed to update permissions")
		return
	}
	respond.OK(c, ToView(doc, false))
}

type processingRequest struct {
	ExtractedTextKey string     `json:"extractedTextKey"`
	VectorID         string     `json:"vectorId"`
	IndexedAt        *time.Time `json:"indexedAt"`
}

func (h *Handler) updateProcessing(c *gin.Context) {
	var req processingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}
	info := ProcessingInfo{
		ExtractedTextKey: req.ExtractedTextKey,
		VectorID:         req.VectorID,
		IndexedAt:        req.IndexedAt,
	}
	doc, err := h.Svc.RecordProcessing(c.Request.Context(), middleware.UserIDFromContext(c), c.Param("documentId"), info)
	if err != nil {
		writeError(c, err, "failed to update processing info")
		return
	}
	respond.OK(c, ToView(doc, false))
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
	case errors.Is(err, ErrForbidden):
		respond.Error(c, http.StatusForbidden, "forbidden", "access to document denied", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}
