package handler

import (
	"net/http"

	"storagedesk/internal/apperr"
	"storagedesk/internal/models"
	"storagedesk/internal/repository"
	"storagedesk/internal/service"
	"storagedesk/internal/validation"

	"github.com/gin-gonic/gin"
)

const maxAgreementSize = 20 << 20

type LeaseHandler struct {
	repo     *repository.LeaseRepository
	payments *repository.PaymentRepository
	svc      *service.LeaseService
}

func NewLeaseHandler(repo *repository.LeaseRepository, payments *repository.PaymentRepository, svc *service.LeaseService) *LeaseHandler {
	return &LeaseHandler{repo: repo, payments: payments, svc: svc}
}

func (h *LeaseHandler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *LeaseHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	l, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// Preview quotes the first charge for ?unit_id=&start_date=.
func (h *LeaseHandler) Preview(c *gin.Context) {
	if c.Query("unit_id") == "" || c.Query("start_date") == "" {
		respondError(c, apperr.ValidationError.New("unit_id and start_date are required"))
		return
	}
	unitID, ok := queryID(c, "unit_id")
	if !ok {
		return
	}
	start, ok := queryDate(c, "start_date", models.Date{})
	if !ok {
		return
	}
	q, err := h.svc.Preview(c.Request.Context(), unitID, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"amount_cents":       q.AmountCents,
		"next_due_date":      models.NewDate(q.NextDueDate),
		"monthly_cents":      q.MonthlyCents,
		"billing_anchor_day": q.BillingAnchorDay,
	})
}

func (h *LeaseHandler) Create(c *gin.Context) {
	var in service.LeaseInput
	if !bind(c, validation.LeaseCreate, &in) {
		return
	}
	lease, _, err := h.svc.Create(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lease)
}

type cardBody struct {
	SourceID       string `json:"source_id"`
	CardholderName string `json:"cardholder_name"`
	Autopay        *bool  `json:"autopay"`
}

// SaveCard stores a card from the gateway's browser SDK. Autopay defaults on.
func (h *LeaseHandler) SaveCard(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body cardBody
	if !bind(c, validation.Card, &body) {
		return
	}
	autopay := body.Autopay == nil || *body.Autopay
	lease, err := h.svc.SaveCard(c.Request.Context(), id, body.SourceID, body.CardholderName, autopay)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lease)
}

func (h *LeaseHandler) End(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	lease, err := h.svc.End(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lease)
}

// UploadAgreement takes the signed agreement as multipart field "file".
func (h *LeaseHandler) UploadAgreement(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, apperr.ValidationError.New("file is required"))
		return
	}
	if fh.Size > maxAgreementSize {
		respondError(c, apperr.ValidationError.New("file is larger than 20MB"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, apperr.ValidationError.Wrap(err))
		return
	}
	defer f.Close()
	lease, err := h.svc.AttachAgreement(c.Request.Context(), id, f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, lease)
}

func (h *LeaseHandler) Payments(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	list, err := h.payments.ListByLease(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
