package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"salescrm/internal/analytics"
	"salescrm/internal/auth"
)

type AnalyticsHandler struct {
	Forecast *analytics.ForecastEngine
	Pipeline *analytics.PipelineAnalytics
	Loss     *analytics.LossAnalysisEngine
	Sources  *analytics.SourceQualityScorer
}

func (h *AnalyticsHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/forecast", h.forecast)
	group := r.Group("/api/v1/analytics")
	group.GET("/pipeline", h.pipeline)
	group.GET("/loss", h.loss)
	group.GET("/sources", h.sources)
}

// analyticsWindow resolves the from/to query pair; missing bounds default to
// the trailing 90 days.
func analyticsWindow(c *gin.Context) (time.Time, time.Time) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -90)
	to := now
	if t := timeQueryPtr(c, "from"); t != nil {
		from = *t
	}
	if t := timeQueryPtr(c, "to"); t != nil {
		to = *t
	}
	return from, to
}

// @Summary Revenue forecast for the coming window
// @Tags analytics
// @Success 200 {object} map[string]any
// @Router /api/v1/forecast [get]
func (h *AnalyticsHandler) forecast(c *gin.Context) {
	if h.Forecast == nil {
		Error(c, http.StatusInternalServerError, "forecast unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	report, err := h.Forecast.Forecast(c.Request.Context(), analytics.ForecastParams{
		WindowDays: intQuery(c, "window_days", 30),
		OwnerID:    actor.OwnerFilter(uint64QueryPtr(c, "owner_id")),
	})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}

// @Summary Pipeline distribution, velocity and conversion
// @Tags analytics
// @Success 200 {object} map[string]any
// @Router /api/v1/analytics/pipeline [get]
func (h *AnalyticsHandler) pipeline(c *gin.Context) {
	if h.Pipeline == nil {
		Error(c, http.StatusInternalServerError, "analytics unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	from, to := analyticsWindow(c)
	report, err := h.Pipeline.Report(c.Request.Context(), analytics.PipelineParams{
		From:    from,
		To:      to,
		OwnerID: actor.OwnerFilter(uint64QueryPtr(c, "owner_id")),
	})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}

// @Summary Loss reasons with period-over-period comparison
// @Tags analytics
// @Success 200 {object} map[string]any
// @Router /api/v1/analytics/loss [get]
func (h *AnalyticsHandler) loss(c *gin.Context) {
	if h.Loss == nil {
		Error(c, http.StatusInternalServerError, "analytics unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	from, to := analyticsWindow(c)
	report, err := h.Loss.Report(c.Request.Context(), analytics.LossParams{
		From:    from,
		To:      to,
		OwnerID: actor.OwnerFilter(uint64QueryPtr(c, "owner_id")),
	})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}

// @Summary Lead source quality scores and insights
// @Tags analytics
// @Success 200 {object} map[string]any
// @Router /api/v1/analytics/sources [get]
func (h *AnalyticsHandler) sources(c *gin.Context) {
	if h.Sources == nil {
		Error(c, http.StatusInternalServerError, "analytics unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	from, to := analyticsWindow(c)
	report, err := h.Sources.Report(c.Request.Context(), analytics.SourceParams{
		From:    from,
		To:      to,
		OwnerID: actor.OwnerFilter(uint64QueryPtr(c, "owner_id")),
	})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}
