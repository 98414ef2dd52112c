package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"salescrm/internal/auth"
	"salescrm/internal/models"
	"salescrm/internal/pipeline"
	"salescrm/internal/repository"
)

type OpportunityHandler struct {
	Repo    repository.Repository
	Service *pipeline.Service
}

func (h *OpportunityHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/opportunities")
	group.POST("", h.createOpportunity)
	group.GET("", h.listOpportunities)
	group.GET("/:id", h.getOpportunity)
	group.PATCH("/:id", h.updateOpportunity)
	group.DELETE("/:id", h.deleteOpportunity)
	group.POST("/:id/transition", h.transitionOpportunity)
	group.POST("/bulk", h.bulkUpdate)
	group.POST("/bulk-assign", h.bulkAssign)
}

// writePipelineError maps service errors onto the HTTP surface. Validation
// failures carry their messages in meta so clients can show every problem at
// once.
func writePipelineError(c *gin.Context, err error) {
	var verr *pipeline.ValidationError
	switch {
	case errors.As(err, &verr):
		Error(c, http.StatusUnprocessableEntity, verr.Error(), map[string]any{"errors": verr.Messages})
	case errors.Is(err, pipeline.ErrForbidden):
		Error(c, http.StatusForbidden, err.Error(), nil)
	case errors.Is(err, pipeline.ErrNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, pipeline.ErrStageConflict):
		Error(c, http.StatusConflict, err.Error(), nil)
	default:
		Error(c, http.StatusInternalServerError, err.Error(), nil)
	}
}

type createOpportunityRequest struct {
	LeadID          uint64           `json:"lead_id" binding:"required"`
	OwnerID         *uint64          `json:"owner_id"`
	Stage           *string          `json:"stage"`
	Amount          *decimal.Decimal `json:"amount"`
	ExpectedCloseAt *time.Time       `json:"expected_close_at"`
	DiscountPct     *decimal.Decimal `json:"discount_pct"`
	CostEstimated   *decimal.Decimal `json:"cost_estimated"`
	Currency        string           `json:"currency"`
}

// @Summary Create opportunity
// @Tags opportunities
// @Accept json
// @Success 200 {object} map[string]any
// @Router /api/v1/opportunities [post]
func (h *OpportunityHandler) createOpportunity(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	var req createOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var stage *models.Stage
	if req.Stage != nil {
		s := models.Stage(strings.ToUpper(strings.TrimSpace(*req.Stage)))
		stage = &s
	}
	opp, warnings, err := h.Service.Create(c.Request.Context(), pipeline.CreateRequest{
		LeadID:          req.LeadID,
		OwnerID:         req.OwnerID,
		Stage:           stage,
		Amount:          req.Amount,
		ExpectedCloseAt: req.ExpectedCloseAt,
		DiscountPct:     req.DiscountPct,
		CostEstimated:   req.CostEstimated,
		Currency:        req.Currency,
	}, actor)
	if err != nil {
		writePipelineError(c, err)
		return
	}
	var meta map[string]any
	if len(warnings) > 0 {
		meta = map[string]any{"warnings": warnings}
	}
	Ok(c, opp, meta)
}

// @Summary List opportunities
// @Tags opportunities
// @Success 200 {object} map[string]any
// @Router /api/v1/opportunities [get]
func (h *OpportunityHandler) listOpportunities(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	var stagePtr *models.Stage
	if raw := strQueryPtr(c, "stage"); raw != nil {
		s := models.Stage(strings.ToUpper(*raw))
		stagePtr = &s
	}

	orderBy := parseOrder(c.Query("sort_by"), map[string]string{
		"amount":            "amount",
		"stage":             "stage",
		"created_at":        "created_at",
		"updated_at":        "updated_at",
		"expected_close_at": "expected_close_at",
		"closed_at":         "closed_at",
	})
	if orderBy == "" {
		orderBy = "created_at"
	}
	asc := strings.EqualFold(strings.TrimSpace(c.Query("order")), "asc")

	params := repository.ListOpportunitiesParams{
		Limit:       limit,
		Offset:      offset,
		OwnerID:     actor.OwnerFilter(uint64QueryPtr(c, "owner_id")),
		LeadID:      uint64QueryPtr(c, "lead_id"),
		Stage:       stagePtr,
		CreatedFrom: timeQueryPtr(c, "created_from"),
		CreatedTo:   timeQueryPtr(c, "created_to"),
		ClosedFrom:  timeQueryPtr(c, "closed_from"),
		ClosedTo:    timeQueryPtr(c, "closed_to"),
		WithLead:    boolQueryDefault(c, "with_lead", false),
		OrderBy:     orderBy,
		Asc:         boolPtr(asc),
	}

	items, err := h.Repo.ListOpportunities(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	countParams := params
	countParams.Limit = 0
	countParams.Offset = 0
	total, err := h.Repo.CountOpportunities(c.Request.Context(), countParams)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Get opportunity with stage history and tasks
// @Tags opportunities
// @Success 200 {object} map[string]any
// @Router /api/v1/opportunities/{id} [get]
func (h *OpportunityHandler) getOpportunity(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	detail, err := h.Service.Get(c.Request.Context(), id, actor)
	if err != nil {
		writePipelineError(c, err)
		return
	}
	Ok(c, detail, nil)
}

type updateOpportunityRequest struct {
	Amount          *decimal.Decimal `json:"amount"`
	Probability     *int             `json:"probability"`
	ExpectedCloseAt *time.Time       `json:"expected_close_at"`
	DiscountPct     *decimal.Decimal `json:"discount_pct"`
	CostEstimated   *decimal.Decimal `json:"cost_estimated"`
	Currency        *string          `json:"currency"`
	Stage           *string          `json:"stage"`
	LostReason      *string          `json:"lost_reason"`
}

func (r *updateOpportunityRequest) toUpdate() pipeline.UpdateRequest {
	out := pipeline.UpdateRequest{
		Amount:          r.Amount,
		Probability:     r.Probability,
		ExpectedCloseAt: r.ExpectedCloseAt,
		DiscountPct:     r.DiscountPct,
		CostEstimated:   r.CostEstimated,
		Currency:        r.Currency,
		LostReason:      r.LostReason,
	}
	if r.Stage != nil {
		s := models.Stage(strings.ToUpper(strings.TrimSpace(*r.Stage)))
		out.Stage = &s
	}
	return out
}

// @Summary Update opportunity fields
// @Tags opportunities
// @Accept json
// @Success 200 {object} map[string]any
// @Router /api/v1/opportunities/{id} [patch]
func (h *OpportunityHandler) updateOpportunity(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req updateOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	opp, warnings, err := h.Service.UpdateFields(c.Request.Context(), id, req.toUpdate(), actor)
	if err != nil {
		writePipelineError(c, err)
		return
	}
	var meta map[string]any
	if len(warnings) > 0 {
		meta = map[string]any{"warnings": warnings}
	}
	Ok(c, opp, meta)
}

type transitionRequest struct {
	TargetStage     string           `json:"target_stage" binding:"required"`
	Amount          *decimal.Decimal `json:"amount"`
	Probability     *int             `json:"probability"`
	ExpectedCloseAt *time.Time       `json:"expected_close_at"`
	LostReason      *string          `json:"lost_reason"`
	DryRun          bool             `json:"dry_run"`
}

// @Summary Transition opportunity to a new stage
// @Tags opportunities
// @Accept json
// @Success 200 {object} map[string]any
// @Router /api/v1/opportunities/{id}/transition [post]
func (h *OpportunityHandler) transitionOpportunity(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	treq := pipeline.TransitionRequest{
		TargetStage:     models.Stage(strings.ToUpper(strings.TrimSpace(req.TargetStage))),
		Amount:          req.Amount,
		Probability:     req.Probability,
		ExpectedCloseAt: req.ExpectedCloseAt,
		LostReason:      req.LostReason,
	}
	if req.DryRun {
		h.dryRunTransition(c, id, treq, actor)
		return
	}
	outcome, err := h.Service.Transition(c.Request.Context(), id, treq, actor)
	if err != nil {
		writePipelineError(c, err)
		return
	}
	Ok(c, outcome, nil)
}

// dryRunTransition validates without persisting anything.
func (h *OpportunityHandler) dryRunTransition(c *gin.Context, id uint64, req pipeline.TransitionRequest, actor auth.Actor) {
	opp, err := h.Repo.GetOpportunityByID(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if opp == nil {
		Error(c, http.StatusNotFound, "opportunity not found", nil)
		return
	}
	result := h.Service.Validator.ValidateTransition(c.Request.Context(), opp, req, actor)
	Ok(c, map[string]any{
		"valid":    result.Valid,
		"errors":   result.Errors,
		"warnings": result.Warnings,
	}, nil)
}

// @Summary Delete opportunity
// @Tags opportunities
// @Success 200 {object} map[string]any
// @Router /api/v1/opportunities/{id} [delete]
func (h *OpportunityHandler) deleteOpportunity(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	id := uint64Param(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	if err := h.Service.Delete(c.Request.Context(), id, actor); err != nil {
		writePipelineError(c, err)
		return
	}
	Ok(c, map[string]any{"id": id, "deleted": true}, nil)
}

type bulkUpdateRequest struct {
	IDs    []uint64 `json:"ids" binding:"required"`
	Action string   `json:"action" binding:"required"`

	TargetStage *string          `json:"target_stage"`
	LostReason  *string          `json:"lost_reason"`
	Amount      *decimal.Decimal `json:"amount"`

	OwnerID *uint64 `json:"owner_id"`

	Fields *updateOpportunityRequest `json:"fields"`
}

// @Summary Bulk transition, assign or update opportunities
// @Tags opportunities
// @Accept json
// @Success 200 {object} map[string]any
// @Router /api/v1/opportunities/bulk [post]
func (h *OpportunityHandler) bulkUpdate(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	var req bulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if len(req.IDs) == 0 {
		Error(c, http.StatusBadRequest, "ids required", nil)
		return
	}
	breq := pipeline.BulkUpdateRequest{
		Action:     strings.ToLower(strings.TrimSpace(req.Action)),
		LostReason: req.LostReason,
		Amount:     req.Amount,
		OwnerID:    req.OwnerID,
	}
	if req.TargetStage != nil {
		s := models.Stage(strings.ToUpper(strings.TrimSpace(*req.TargetStage)))
		breq.TargetStage = &s
	}
	if req.Fields != nil {
		fields := req.Fields.toUpdate()
		breq.Fields = &fields
	}
	result := h.Service.BulkUpdate(c.Request.Context(), req.IDs, breq, actor)
	Ok(c, result, map[string]any{
		"requested":  len(req.IDs),
		"successful": len(result.Successful),
		"failed":     len(result.Failed),
	})
}

type bulkAssignRequest struct {
	LeadIDs []uint64 `json:"lead_ids" binding:"required"`
	OwnerID uint64   `json:"owner_id" binding:"required"`
	Stage   *string  `json:"stage"`
}

// @Summary Create opportunities for a batch of leads
// @Tags opportunities
// @Accept json
// @Success 200 {object} map[string]any
// @Router /api/v1/opportunities/bulk-assign [post]
func (h *OpportunityHandler) bulkAssign(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	actor, ok := auth.ActorFromGin(c)
	if !ok {
		Error(c, http.StatusUnauthorized, "missing actor", nil)
		return
	}
	var req bulkAssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if len(req.LeadIDs) == 0 {
		Error(c, http.StatusBadRequest, "lead_ids required", nil)
		return
	}
	stage := models.StageNew
	if req.Stage != nil {
		stage = models.Stage(strings.ToUpper(strings.TrimSpace(*req.Stage)))
	}
	result := h.Service.BulkAssign(c.Request.Context(), req.LeadIDs, req.OwnerID, stage, actor)
	Ok(c, result, map[string]any{
		"requested": len(req.LeadIDs),
		"created":   len(result.Created),
		"failed":    len(result.Failed),
	})
}
