package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/civitas311/backend/internal/ai"
	"github.com/civitas311/backend/internal/db"
	"github.com/civitas311/backend/internal/dispatch"
	"github.com/civitas311/backend/internal/geo"
	"github.com/civitas311/backend/internal/models"
)

// Dispatcher runs the full dispatch cycle for one ticket.
type Dispatcher interface {
	Dispatch(ctx context.Context, ticketID string) (models.DispatchDecision, error)
}

type Handler struct {
	Store      *db.Store
	Dispatcher Dispatcher
	Validator  *validator.Validate
	Logger     zerolog.Logger
	AdminKey   string
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) TicketsList(c *gin.Context) {
	status := c.Query("status")
	priority := c.Query("priority")
	q := c.Query("q")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, err := h.Store.ListTickets(c.Request.Context(), status, priority, q, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list tickets", err.Error())
		return
	}
	if items == nil {
		items = []models.Ticket{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "limit": limit, "offset": offset})
}

func (h *Handler) TicketDetails(c *gin.Context) {
	details, err := h.Store.GetTicketDetails(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, dispatch.ErrTicketNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get ticket", err.Error())
		return
	}
	c.JSON(http.StatusOK, details)
}

func (h *Handler) LabelsList(c *gin.Context) {
	items, err := h.Store.SearchLabels(c.Request.Context(), c.Query("search"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list labels", err.Error())
		return
	}
	if items == nil {
		items = []models.Label{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) UsersList(c *gin.Context) {
	users, err := h.Store.SearchUsers(c.Request.Context(), c.Query("search"))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list users", err.Error())
		return
	}
	items := []models.User{}
	for _, u := range users {
		if u.Status == models.ResourceActive {
			items = append(items, u)
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Nearest crews
// @Tags crews
// @Produce json
// @Param lat query number true "Latitude"
// @Param lng query number true "Longitude"
// @Param crew_type query string true "Crew type"
// @Success 200 {object} map[string]any
// @Router /api/crews/nearest [get]
func (h *Handler) CrewsNearest(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "lat and lng must be numbers", nil)
		return
	}
	if err := h.Validator.Var(lat, "latitude"); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "lat must be between -90 and 90", lat)
		return
	}
	if err := h.Validator.Var(lng, "longitude"); err != nil {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "lng must be between -180 and 180", lng)
		return
	}
	crewType := strings.TrimSpace(c.Query("crew_type"))
	if !models.ValidCrewType(crewType) {
		writeError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid crew_type", crewType)
		return
	}

	crews, err := h.Store.ListCrewsByType(c.Request.Context(), crewType)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list crews", err.Error())
		return
	}
	ranked := geo.NearestCrews(lat, lng, crews, dispatch.MaxNearestCrews)
	if ranked == nil {
		ranked = []geo.RankedCrew{}
	}
	c.JSON(http.StatusOK, gin.H{"items": ranked})
}

func (h *Handler) TicketAudit(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.Store.GetTicket(c.Request.Context(), id); err != nil {
		if errors.Is(err, dispatch.ErrTicketNotFound) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to get ticket", err.Error())
		return
	}

	items, err := h.Store.ListAuditEntries(c.Request.Context(), id)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list audit entries", err.Error())
		return
	}
	if items == nil {
		items = []models.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// @Summary Dispatch a ticket
// @Description Run the AI dispatcher against one ticket and apply its decision
// @Tags dispatch
// @Produce json
// @Param id path string true "Ticket ID"
// @Success 200 {object} models.DispatchDecision
// @Failure 404 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Failure 422 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Router /api/tickets/{id}/dispatch [post]
func (h *Handler) DispatchTicket(c *gin.Context) {
	id := c.Param("id")
	dec, err := h.Dispatcher.Dispatch(c.Request.Context(), id)
	if err != nil {
		h.writeDispatchError(c, id, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ticket_id": id, "decision": dec})
}

func (h *Handler) writeDispatchError(c *gin.Context, ticketID string, err error) {
	var valErr *dispatch.ValidationError
	var conflict *dispatch.ConflictError
	var transport *ai.TransportError

	switch {
	case errors.Is(err, dispatch.ErrTicketNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Ticket not found", nil)
	case errors.Is(err, dispatch.ErrDispatchInProgress):
		writeError(c, http.StatusConflict, "DISPATCH_IN_PROGRESS", "Another dispatch holds this ticket", nil)
	case errors.As(err, &conflict):
		writeError(c, http.StatusConflict, "CONFLICT", "Referenced resources changed during dispatch", err.Error())
	case errors.Is(err, dispatch.ErrTurnLimitExceeded):
		writeError(c, http.StatusBadGateway, "TURN_LIMIT", "Model did not produce a decision within the turn budget", nil)
	case errors.As(err, &valErr):
		writeError(c, http.StatusUnprocessableEntity, "INVALID_MODEL_OUTPUT", "Model output failed validation", valErr.Error())
	case errors.As(err, &transport):
		writeError(c, http.StatusBadGateway, "MODEL_UNAVAILABLE", "Model request failed", err.Error())
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusBadGateway, "MODEL_UNAVAILABLE", "Dispatch timed out", err.Error())
	default:
		h.Logger.Error().Err(err).Str("ticket_id", ticketID).Msg("dispatch failed")
		writeError(c, http.StatusInternalServerError, "DISPATCH_ERROR", "Dispatch failed", err.Error())
	}
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
