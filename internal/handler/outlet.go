package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/outlet-reservation/internal/apperr"
	"github.com/iliyamo/outlet-reservation/internal/model"
	"github.com/iliyamo/outlet-reservation/internal/service"
)

// OutletHandler serves outlet details and slot availability.
type OutletHandler struct {
	Outlets    service.OutletStore
	Calculator *service.Calculator
	Logger     *slog.Logger
}

func NewOutletHandler(outlets service.OutletStore, calc *service.Calculator, logger *slog.Logger) *OutletHandler {
	if outlets == nil || calc == nil {
		panic("nil dependency passed to NewOutletHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OutletHandler{Outlets: outlets, Calculator: calc, Logger: logger}
}

// SlotsResponse is the availability listing for one outlet-day.
type SlotsResponse struct {
	OutletID  string               `json:"outlet_id"`
	Date      string               `json:"date"`
	PartySize int                  `json:"party_size"`
	Slots     []model.CapacitySlot `json:"slots"`
}

// GetOutlet handles GET /v1/outlets/:id.
func (h *OutletHandler) GetOutlet(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	o, err := h.Outlets.GetOutlet(ctx, c.Param("id"))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return respond(c, http.StatusOK, o)
}

// ListSlots handles GET /v1/outlets/:id/slots?date=&party_size=&all=.
// Only slots the party can book are listed unless all=true.
func (h *OutletHandler) ListSlots(c echo.Context) error {
	partySize := 1
	if raw := strings.TrimSpace(c.QueryParam("party_size")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return writeError(c, h.Logger, apperr.Validation("party_size must be an integer"))
		}
		partySize = n
	}
	date := c.QueryParam("date")
	if strings.TrimSpace(date) == "" {
		return writeError(c, h.Logger, apperr.Validation("date is required"))
	}
	all, _ := strconv.ParseBool(c.QueryParam("all"))

	ctx, cancel := reqCtx(c)
	defer cancel()
	slots, err := h.Calculator.AvailableSlots(ctx, c.Param("id"), date, partySize)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	if !all {
		open := slots[:0]
		for _, s := range slots {
			if s.Available {
				open = append(open, s)
			}
		}
		slots = open
	}
	return respond(c, http.StatusOK, SlotsResponse{
		OutletID:  c.Param("id"),
		Date:      strings.TrimSpace(date),
		PartySize: partySize,
		Slots:     slots,
	})
}

// RebuildSlots handles POST /v1/outlets/:id/slots/rebuild?date=.
func (h *OutletHandler) RebuildSlots(c echo.Context) error {
	date := c.QueryParam("date")
	if strings.TrimSpace(date) == "" {
		return writeError(c, h.Logger, apperr.Validation("date is required"))
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	slots, err := h.Calculator.Rebuild(ctx, c.Param("id"), date)
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return respond(c, http.StatusOK, SlotsResponse{
		OutletID:  c.Param("id"),
		Date:      strings.TrimSpace(date),
		PartySize: 1,
		Slots:     slots,
	})
}
