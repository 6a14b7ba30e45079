package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"salonsite/api/models"
	"salonsite/api/reports"
	"salonsite/api/utils"
)

const (
	defaultWindowDays = 30
	maxPopularPages   = 100
	reportErrorBody   = "An internal error occurred while generating the report."
)

// VisitLister is the raw event query used by the admin visit log.
type VisitLister interface {
	Query(ctx context.Context, filter models.VisitFilter) ([]models.VisitEvent, error)
}

type ReportHandlers struct {
	Reports *reports.Reports
	Visits  VisitLister
	Timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewReportHandlers(r *reports.Reports, visits VisitLister, timeout time.Duration, logger *zap.Logger) *ReportHandlers {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ReportHandlers{
		Reports: r,
		Visits:  visits,
		Timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// Overview returns every aggregate for the resolved window.
func (h *ReportHandlers) Overview(c *gin.Context) {
	w, ok := h.resolveWindow(c)
	if !ok {
		return
	}

	limit, err := utils.ParseLimit(c.Query("limit"), reports.DefaultPopularPagesLimit, maxPopularPages)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit. Use an integer between 1 and 100."})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	overview, err := h.Reports.BuildOverview(ctx, w, limit)
	if err != nil {
		h.logger.Error("Error generating tracking overview",
			zap.String("start_date", w.StartDate.Format(models.DateLayout)),
			zap.String("end_date", w.EndDate.Format(models.DateLayout)),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": reportErrorBody})
		return
	}

	c.JSON(http.StatusOK, overview)
}

// ListVisits returns raw visit events, newest first. Without dates the log is
// unbounded in time and capped only by limit.
func (h *ReportHandlers) ListVisits(c *gin.Context) {
	w, ok := parseWindowParams(c)
	if !ok {
		return
	}
	if w.HasStart && w.HasEnd && w.StartDate.After(w.EndDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date cannot be after end_date."})
		return
	}

	limit, err := utils.ParseLimit(c.Query("limit"), models.DefaultVisitLimit, models.MaxVisitLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit. Use an integer between 1 and 1000."})
		return
	}

	filter := models.VisitFilter{
		Window:     w,
		PathPrefix: c.Query("path"),
		Limit:      limit,
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.Timeout)
	defer cancel()

	events, err := h.Visits.Query(ctx, filter)
	if err != nil {
		h.logger.Error("Error listing visits", zap.String("path_prefix", filter.PathPrefix), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": reportErrorBody})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(events),
		"results": events,
	})
}

// resolveWindow applies the default trailing window: both dates absent gives
// the last 30 days ending today, a lone end_date gives the 30 days ending
// there, and a lone start_date runs until today.
func (h *ReportHandlers) resolveWindow(c *gin.Context) (models.Window, bool) {
	w, ok := parseWindowParams(c)
	if !ok {
		return models.Window{}, false
	}

	today := models.TruncateDay(h.now())
	switch {
	case !w.HasStart && !w.HasEnd:
		w.EndDate = today
		w.StartDate = today.AddDate(0, 0, -(defaultWindowDays - 1))
	case !w.HasStart:
		w.StartDate = w.EndDate.AddDate(0, 0, -(defaultWindowDays - 1))
	case !w.HasEnd:
		w.EndDate = today
	}
	w.HasStart, w.HasEnd = true, true

	if w.StartDate.After(w.EndDate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_date cannot be after end_date."})
		return models.Window{}, false
	}
	return w, true
}

// parseWindowParams reads start_date and end_date, leaving an absent side
// unbounded. On a malformed value it writes the 400 response itself.
func parseWindowParams(c *gin.Context) (models.Window, bool) {
	start, hasStart, ok := parseDateParam(c, "start_date")
	if !ok {
		return models.Window{}, false
	}
	end, hasEnd, ok := parseDateParam(c, "end_date")
	if !ok {
		return models.Window{}, false
	}
	return models.Window{StartDate: start, EndDate: end, HasStart: hasStart, HasEnd: hasEnd}, true
}

func parseDateParam(c *gin.Context, param string) (d time.Time, given bool, ok bool) {
	d, given, err := utils.ParseDate(param, c.Query(param))
	if err != nil {
		if errors.Is(err, utils.ErrInvalidDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param + " format. Use YYYY-MM-DD."})
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return time.Time{}, false, false
	}
	return d, given, true
}
