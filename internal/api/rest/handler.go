package rest

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/taxroll/lead-reconciler/internal/domain"
	"github.com/taxroll/lead-reconciler/internal/store"
	"github.com/taxroll/lead-reconciler/internal/uploads"
)

// maxUploadBytes caps uploaded spreadsheet size. County rolls run tens of
// thousands of rows; 64 MiB is far above any real export.
const maxUploadBytes = 64 << 20

// Handler defines the interface for REST API handlers
type Handler interface {
	// UploadLeads ingests a spreadsheet and runs reconciliation
	// POST /api/v1/uploads (multipart form, field "file"; optional "uploaded_at" RFC3339)
	UploadLeads(c *gin.Context)

	// ListProperties retrieves properties with optional filters
	// GET /api/v1/properties?status=<J|A|P>&active=<bool>&min_score=<0-100>&limit=<limit>&offset=<offset>
	ListProperties(c *gin.Context)

	// GetProperty retrieves a single property with its full status history
	// GET /api/v1/properties/:id
	GetProperty(c *gin.Context)

	// GetChanges pages the status-transition journal
	// GET /api/v1/changes?anchor=<cursor>&limit=<limit>
	// Returns events in ascending cursor order (sequential audit log)
	GetChanges(c *gin.Context)

	// GetLatestReport retrieves the comparison report of the most recent upload
	// GET /api/v1/reports/latest
	GetLatestReport(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	store     store.Store
	processor *uploads.Processor
}

// NewHandler creates a new REST API handler
func NewHandler(s store.Store, processor *uploads.Processor) Handler {
	return &handler{
		store:     s,
		processor: processor,
	}
}

// UploadLeads ingests one spreadsheet upload
func (h *handler) UploadLeads(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondBadRequest(c, "Multipart field 'file' is required", err.Error())
		return
	}
	if fileHeader.Size > maxUploadBytes {
		respondValidationError(c, "file exceeds the upload size limit")
		return
	}

	var uploadedAt time.Time
	if raw := c.PostForm("uploaded_at"); raw != "" {
		uploadedAt, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			respondValidationError(c, "uploaded_at must be RFC3339")
			return
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondInternalError(c, err, "Failed to read upload")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		respondInternalError(c, err, "Failed to read upload")
		return
	}

	output, err := h.processor.Process(c.Request.Context(), uploads.Input{
		FileName:   fileHeader.Filename,
		Data:       data,
		UploadedAt: uploadedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnsupportedFormat):
			respondValidationError(c, err.Error())
		case errors.Is(err, domain.ErrNoRows):
			respondValidationError(c, err.Error())
		case errors.Is(err, domain.ErrStaleSnapshot):
			respondConflict(c, "Another upload is in progress, retry shortly")
		default:
			respondInternalError(c, err, "Failed to process upload",
				zap.String("file", fileHeader.Filename))
		}
		return
	}

	c.JSON(http.StatusOK, output)
}

// ListProperties retrieves properties with optional filters
func (h *handler) ListProperties(c *gin.Context) {
	var filter store.PropertyFilter

	if raw := c.Query("status"); raw != "" {
		status := domain.Status(raw)
		if !domain.IsValidStatus(status) {
			respondValidationError(c, "status must be J, A or P")
			return
		}
		filter.Status = &status
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondValidationError(c, "active must be a boolean")
			return
		}
		filter.Active = &active
	}
	if raw := c.Query("min_score"); raw != "" {
		minScore, err := strconv.Atoi(raw)
		if err != nil || minScore < 0 || minScore > 100 {
			respondValidationError(c, "min_score must be 0-100")
			return
		}
		filter.MinScore = &minScore
	}

	var ok bool
	filter.Limit, ok = parseIntQuery(c, "limit", 100, 1, 1000)
	if !ok {
		return
	}
	filter.Offset, ok = parseIntQuery(c, "offset", 0, 0, 1<<31-1)
	if !ok {
		return
	}

	properties, total, err := h.store.ListProperties(c.Request.Context(), filter)
	if err != nil {
		respondInternalError(c, err, "Failed to list properties")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"properties": properties,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}

// GetProperty retrieves a single property by tax-account identifier
func (h *handler) GetProperty(c *gin.Context) {
	accountID := c.Param("id")
	if accountID == "" {
		respondBadRequest(c, "Property ID is required")
		return
	}

	property, err := h.store.GetProperty(c.Request.Context(), accountID)
	if err != nil {
		if errors.Is(err, domain.ErrPropertyNotFound) {
			respondNotFound(c, "Property not found")
			return
		}
		respondInternalError(c, err, "Failed to get property",
			zap.String("account_id", accountID))
		return
	}

	c.JSON(http.StatusOK, property)
}

// GetChanges pages the status-transition journal forward from an anchor cursor
func (h *handler) GetChanges(c *gin.Context) {
	var anchor int64
	if raw := c.Query("anchor"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			respondValidationError(c, "anchor must be a non-negative integer")
			return
		}
		anchor = parsed
	}

	limit, ok := parseIntQuery(c, "limit", 100, 1, 1000)
	if !ok {
		return
	}

	events, err := h.store.GetStatusEvents(c.Request.Context(), anchor, limit)
	if err != nil {
		respondInternalError(c, err, "Failed to get changes")
		return
	}

	nextAnchor := anchor
	if len(events) > 0 {
		nextAnchor = events[len(events)-1].Cursor
	}

	c.JSON(http.StatusOK, gin.H{
		"changes":     events,
		"next_anchor": nextAnchor,
	})
}

// GetLatestReport retrieves the comparison report of the most recent upload
func (h *handler) GetLatestReport(c *gin.Context) {
	report, err := h.store.GetLatestReport(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotNotFound) {
			respondNotFound(c, "No uploads processed yet")
			return
		}
		respondInternalError(c, err, "Failed to get latest report")
		return
	}

	c.JSON(http.StatusOK, report)
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// parseIntQuery parses a bounded integer query parameter, responding with a
// validation error (and returning false) on bad input
func parseIntQuery(c *gin.Context, name string, fallback, min, max int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min || value > max {
		respondValidationError(c, name+" is out of range")
		return 0, false
	}
	return value, true
}
