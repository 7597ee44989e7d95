package handler

import (
	"net/http"
	"strconv"

	"storagedesk/internal/apperr"
	"storagedesk/internal/service"
	"storagedesk/internal/validation"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	svc *service.PaymentService
	log *zap.Logger
}

func NewPaymentHandler(svc *service.PaymentService, log *zap.Logger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{svc: svc, log: log}
}

// List returns the newest ledger entries; ?limit= is clamped to [1, 500].
func (h *PaymentHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(c, apperr.ValidationError.New("limit must be an integer"))
			return
		}
		limit = n
		if limit < 1 {
			limit = 1
		}
	}
	list, err := h.svc.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *PaymentHandler) Export(c *gin.Context) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="payments.csv"`)
	c.Status(http.StatusOK)
	if err := h.svc.ExportCSV(c.Request.Context(), c.Writer); err != nil {
		// Headers are gone by now; the truncated file is all we can do.
		h.log.Error("payment export failed", zap.Error(err))
		_ = c.Error(err)
	}
}

func (h *PaymentHandler) Charge(c *gin.Context) {
	var in service.ChargeInput
	if !bind(c, validation.Charge, &in) {
		return
	}
	p, err := h.svc.Charge(c.Request.Context(), in)
	if err != nil {
		if p != nil {
			_ = c.Error(err)
			c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err), "payment": p})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *PaymentHandler) Refund(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in service.RefundInput
	if !bindOptional(c, validation.Refund, &in) {
		return
	}
	p, err := h.svc.Refund(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}
