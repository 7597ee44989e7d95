package handler

import (
	"net/http"
	"time"

	"storagedesk/internal/domain"
	"storagedesk/internal/models"
	"storagedesk/internal/repository"
	"storagedesk/internal/validation"

	"github.com/gin-gonic/gin"
)

type InvoiceHandler struct {
	repo   *repository.InvoiceRepository
	leases *repository.LeaseRepository
}

func NewInvoiceHandler(repo *repository.InvoiceRepository, leases *repository.LeaseRepository) *InvoiceHandler {
	return &InvoiceHandler{repo: repo, leases: leases}
}

// List supports ?lease_id= and ?status=.
func (h *InvoiceHandler) List(c *gin.Context) {
	leaseID, ok := queryID(c, "lease_id")
	if !ok {
		return
	}
	list, err := h.repo.List(c.Request.Context(), leaseID, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

type invoiceBody struct {
	LeaseID     uint        `json:"lease_id"`
	Kind        string      `json:"kind"`
	AmountCents int64       `json:"amount_cents"`
	DueDate     models.Date `json:"due_date"`
	Description string      `json:"description"`
}

func (h *InvoiceHandler) Create(c *gin.Context) {
	var body invoiceBody
	if !bind(c, validation.InvoiceCreate, &body) {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.leases.GetByID(ctx, body.LeaseID); err != nil {
		respondError(c, err)
		return
	}
	if body.Kind == "" {
		body.Kind = domain.InvoiceKindFee
	}
	inv := &models.Invoice{
		LeaseID:     body.LeaseID,
		Kind:        body.Kind,
		AmountCents: body.AmountCents,
		DueDate:     body.DueDate,
		Status:      domain.InvoiceOpen,
		Description: body.Description,
	}
	if err := h.repo.Create(ctx, inv); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

// MarkPaid settles an invoice paid outside the gateway (cash, check).
func (h *InvoiceHandler) MarkPaid(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body struct {
		PaymentRef string `json:"payment_ref"`
	}
	_ = c.ShouldBindJSON(&body)
	inv, err := h.repo.MarkPaid(c.Request.Context(), id, body.PaymentRef, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *InvoiceHandler) Void(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	inv, err := h.repo.Void(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}
