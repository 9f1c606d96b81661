package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/middleware"
	"github.com/iliyamo/outlet-reservation/internal/service"
	"github.com/iliyamo/outlet-reservation/internal/utils"
)

// ReservationHandler serves the reservation lifecycle. Customers only see
// their own reservations; admins act on any.
type ReservationHandler struct {
	Coordinator *service.Coordinator
	Logger      *slog.Logger
}

func NewReservationHandler(coordinator *service.Coordinator, logger *slog.Logger) *ReservationHandler {
	if coordinator == nil {
		panic("nil coordinator passed to NewReservationHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReservationHandler{Coordinator: coordinator, Logger: logger}
}

type createReservationBody struct {
	OutletID  string `json:"outlet_id"`
	SlotStart string `json:"slot_start"`
	PartySize int    `json:"party_size"`
}

type cancelReservationBody struct {
	Reason string `json:"reason"`
}

// customerScope returns the customer a request is restricted to, or "" for
// admins.
func customerScope(c echo.Context) string {
	if middleware.Role(c) == utils.RoleAdmin {
		return ""
	}
	return middleware.UserID(c)
}

// Create handles POST /v1/reservations.
func (h *ReservationHandler) Create(c echo.Context) error {
	var body createReservationBody
	if err := bind(c, &body); err != nil {
		return writeError(c, h.Logger, err)
	}
	if strings.TrimSpace(body.OutletID) == "" {
		return writeError(c, h.Logger, apperr.Validation("outlet_id is required"))
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(body.SlotStart))
	if err != nil {
		return writeError(c, h.Logger, apperr.Validation("slot_start must be an RFC 3339 timestamp"))
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	r, err := h.Coordinator.RequestReservation(ctx, service.ReservationRequest{
		OutletID:   body.OutletID,
		CustomerID: middleware.UserID(c),
		SlotStart:  start,
		PartySize:  body.PartySize,
	})
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return respond(c, http.StatusCreated, r)
}

// Get handles GET /v1/reservations/:id.
func (h *ReservationHandler) Get(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	r, err := h.Coordinator.GetReservation(ctx, c.Param("id"), customerScope(c))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return respond(c, http.StatusOK, r)
}

// Cancel handles POST /v1/reservations/:id/cancel. The body is optional.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	var body cancelReservationBody
	if c.Request().ContentLength > 0 {
		if err := bind(c, &body); err != nil {
			return writeError(c, h.Logger, err)
		}
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	r, err := h.Coordinator.CancelReservation(ctx, c.Param("id"), customerScope(c), body.Reason)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return respond(c, http.StatusOK, r)
}

// Confirm handles POST /v1/reservations/:id/confirm.
func (h *ReservationHandler) Confirm(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	r, err := h.Coordinator.ConfirmReservation(ctx, c.Param("id"))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return respond(c, http.StatusOK, r)
}
