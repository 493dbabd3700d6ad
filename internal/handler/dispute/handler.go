package dispute

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ticketry/dispute-api/internal/handler"
	"github.com/ticketry/dispute-api/internal/model"
	"github.com/ticketry/dispute-api/internal/service/dispute"
	apperrors "github.com/ticketry/dispute-api/pkg/errors"
)

type Handler struct {
	service dispute.Service
}

func NewHandler(service dispute.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	disputes := r.Group("/disputes")
	{
		disputes.POST("", h.CreateDispute)
		disputes.GET("", h.ListDisputes)
		disputes.GET("/:id", h.GetDispute)
		disputes.PATCH("/:id", h.UpdateDispute)
		disputes.DELETE("/:id", h.DeleteDispute)

		disputes.POST("/:id/communication", h.AddCommunication)
		disputes.POST("/:id/evidence", h.AddEvidence)
		disputes.POST("/:id/escalate", h.EscalateDispute)
	}
}

func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	admin := r.Group("/admin/disputes")
	{
		admin.GET("", h.AdminListDisputes)
		admin.GET("/analytics", h.GetAnalytics)
		admin.PATCH("/bulk-update", h.BulkUpdateDisputes)
		admin.PATCH("/:id", h.AdminUpdateDispute)
	}
}

func (h *Handler) CreateDispute(c *gin.Context) {
	userID, ok := handler.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	var req model.CreateDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	result, err := h.service.CreateDispute(c.Request.Context(), userID, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handler.NewSuccessResponse(result))
}

func (h *Handler) ListDisputes(c *gin.Context) {
	userID, ok := handler.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}
	filter.UserID = &userID

	page, err := h.service.ListDisputes(c.Request.Context(), filter)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(page))
}

func (h *Handler) GetDispute(c *gin.Context) {
	userID, ok := handler.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid dispute ID"))
		return
	}

	// Staff see every dispute; everyone else is scoped to their own.
	var requesterID *uuid.UUID
	if !handler.IsAdmin(c) {
		requesterID = &userID
	}

	result, err := h.service.GetDispute(c.Request.Context(), id, requesterID)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) UpdateDispute(c *gin.Context) {
	userID, ok := handler.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid dispute ID"))
		return
	}

	var req model.UpdateDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	result, err := h.service.UpdateDispute(c.Request.Context(), id, userID, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) DeleteDispute(c *gin.Context) {
	userID, ok := handler.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid dispute ID"))
		return
	}

	if err := h.service.DeleteDispute(c.Request.Context(), id, userID); err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessMessageResponse("dispute cancelled", nil))
}

func (h *Handler) AddCommunication(c *gin.Context) {
	userID, ok := handler.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid dispute ID"))
		return
	}

	var req model.AddCommunicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	isAdmin := handler.IsAdmin(c)
	// Internal notes are a staff-only facility.
	if req.IsInternal && !isAdmin {
		c.JSON(http.StatusForbidden, handler.NewErrorResponse("internal notes are restricted to staff"))
		return
	}

	result, err := h.service.AddCommunication(c.Request.Context(), id, userID, isAdmin, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) AddEvidence(c *gin.Context) {
	userID, ok := handler.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid dispute ID"))
		return
	}

	var req model.AddEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	result, err := h.service.AddEvidence(c.Request.Context(), id, userID, req.Files)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(gin.H{
		"dispute":        result,
		"uploaded_files": len(req.Files),
	}))
}

func (h *Handler) EscalateDispute(c *gin.Context) {
	userID, ok := handler.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid dispute ID"))
		return
	}

	var req model.EscalateDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	result, err := h.service.Escalate(c.Request.Context(), id, userID, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) AdminListDisputes(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return
	}

	page, err := h.service.ListDisputes(c.Request.Context(), filter)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(page))
}

func (h *Handler) AdminUpdateDispute(c *gin.Context) {
	adminID, ok := handler.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid dispute ID"))
		return
	}

	var req model.AdminUpdateDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	result, err := h.service.AdminUpdate(c.Request.Context(), id, adminID, &req)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) BulkUpdateDisputes(c *gin.Context) {
	adminID, ok := handler.CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, handler.NewErrorResponse("missing user identity"))
		return
	}

	var req model.BulkUpdateDisputesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handler.RespondBindError(c, err)
		return
	}

	ids := make([]uuid.UUID, 0, len(req.DisputeIDs))
	for _, raw := range req.DisputeIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid dispute ID: "+raw))
			return
		}
		ids = append(ids, id)
	}

	summary, err := h.service.BulkUpdate(c.Request.Context(), ids, adminID, &req.Updates)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(summary))
}

func (h *Handler) GetAnalytics(c *gin.Context) {
	startDate, err := parseDate(c.Query("start_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid start_date"))
		return
	}
	endDate, err := parseDate(c.Query("end_date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("invalid end_date"))
		return
	}

	analytics, err := h.service.Analytics(c.Request.Context(), startDate, endDate)
	if err != nil {
		handler.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(analytics))
}

func parseFilter(c *gin.Context) (*model.DisputeFilter, error) {
	filter := &model.DisputeFilter{
		Search:    c.Query("search"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	}

	if v := c.Query("status"); v != "" {
		status := model.DisputeStatus(v)
		if !status.Valid() {
			return nil, apperrors.Validation("invalid status filter: "+v, nil)
		}
		filter.Status = &status
	}
	if v := c.Query("dispute_type"); v != "" {
		disputeType := model.DisputeType(v)
		if !disputeType.Valid() {
			return nil, apperrors.Validation("invalid dispute_type filter: "+v, nil)
		}
		filter.Type = &disputeType
	}
	if v := c.Query("priority"); v != "" {
		priority := model.DisputePriority(v)
		if !priority.Valid() {
			return nil, apperrors.Validation("invalid priority filter: "+v, nil)
		}
		filter.Priority = &priority
	}

	var err error
	if filter.StartDate, err = parseDate(c.Query("start_date")); err != nil {
		return nil, apperrors.Validation("invalid start_date", err)
	}
	if filter.EndDate, err = parseDate(c.Query("end_date")); err != nil {
		return nil, apperrors.Validation("invalid end_date", err)
	}

	if err := c.ShouldBindQuery(&filter.Pagination); err != nil {
		return nil, apperrors.Validation("invalid pagination", err)
	}
	return filter, nil
}

func parseDate(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}
