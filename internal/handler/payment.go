package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/outlet-reservation/internal/middleware"
	"github.com/iliyamo/outlet-reservation/internal/model"
	"github.com/iliyamo/outlet-reservation/internal/service"
)

// PaymentHandler serves payment creation and status reconciliation.
type PaymentHandler struct {
	Reconciler *service.Reconciler
	Logger     *slog.Logger
}

func NewPaymentHandler(reconciler *service.Reconciler, logger *slog.Logger) *PaymentHandler {
	if reconciler == nil {
		panic("nil reconciler passed to NewPaymentHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentHandler{Reconciler: reconciler, Logger: logger}
}

type createPaymentBody struct {
	Amount  int64  `json:"amount"`
	Method  string `json:"method"`
	Channel string `json:"channel"`
}

// PaymentView is a payment as shown to the paying customer.
type PaymentView struct {
	*model.Payment
	ReservationState model.ReservationState `json:"reservation_state"`
	TimeRemaining    string                 `json:"time_remaining,omitempty"`
}

func viewOf(st *service.PaymentStatus) PaymentView {
	return PaymentView{Payment: st.Payment, ReservationState: st.ReservationState, TimeRemaining: st.TimeRemaining}
}

// Create handles POST /v1/reservations/:id/payments.
func (h *PaymentHandler) Create(c echo.Context) error {
	var body createPaymentBody
	if err := bind(c, &body); err != nil {
		return writeError(c, h.Logger, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	p, err := h.Reconciler.CreatePayment(ctx, service.PaymentRequest{
		ReservationID: c.Param("id"),
		CustomerID:    middleware.UserID(c),
		Amount:        body.Amount,
		Method:        body.Method,
		Channel:       body.Channel,
	})
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return respond(c, http.StatusCreated, p)
}

// Get handles GET /v1/payments/:id. It reconciles with the gateway before
// answering.
func (h *PaymentHandler) Get(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	st, err := h.Reconciler.RefreshStatusFor(ctx, c.Param("id"), customerScope(c))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return respond(c, http.StatusOK, viewOf(st))
}

// Simulate handles POST /v1/payments/:id/simulate.
func (h *PaymentHandler) Simulate(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	st, err := h.Reconciler.SimulateSuccess(ctx, c.Param("id"), customerScope(c))
	if err != nil {
		return writeError(c, h.Logger, err)
	}
	return respond(c, http.StatusOK, viewOf(st))
}
