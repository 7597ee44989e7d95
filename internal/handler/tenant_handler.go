package handler

import (
	"net/http"

	"storagedesk/internal/models"
	"storagedesk/internal/repository"
	"storagedesk/internal/service"
	"storagedesk/internal/validation"

	"github.com/gin-gonic/gin"
)

type TenantHandler struct {
	repo   *repository.TenantRepository
	leases *service.LeaseService
}

func NewTenantHandler(repo *repository.TenantRepository, leases *service.LeaseService) *TenantHandler {
	return &TenantHandler{repo: repo, leases: leases}
}

// List supports ?q= matching name or email.
func (h *TenantHandler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context(), c.Query("q"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *TenantHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	t, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

type tenantBody struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Notes string `json:"notes"`
}

func (h *TenantHandler) Create(c *gin.Context) {
	var body tenantBody
	if !bind(c, validation.Tenant, &body) {
		return
	}
	t := &models.Tenant{Name: body.Name, Email: body.Email, Phone: body.Phone, Notes: body.Notes}
	if err := h.repo.Create(c.Request.Context(), t); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *TenantHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	t, err := h.repo.GetByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	var body tenantBody
	if !bind(c, validation.Tenant, &body) {
		return
	}
	t.Name, t.Email, t.Phone, t.Notes = body.Name, body.Email, body.Phone, body.Notes
	if err := h.repo.Update(ctx, t); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// CreateCustomer registers the tenant at the active payment gateway.
func (h *TenantHandler) CreateCustomer(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	customerID, err := h.leases.EnsureCustomer(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": id, "customer_id": customerID})
}
