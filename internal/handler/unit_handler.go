package handler

import (
	"net/http"

	"storagedesk/internal/models"
	"storagedesk/internal/repository"
	"storagedesk/internal/validation"

	"github.com/gin-gonic/gin"
)

type UnitHandler struct {
	repo *repository.UnitRepository
}

func NewUnitHandler(repo *repository.UnitRepository) *UnitHandler {
	return &UnitHandler{repo: repo}
}

func (h *UnitHandler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context(), c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *UnitHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	u, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UnitHandler) Create(c *gin.Context) {
	var u models.Unit
	if !bind(c, validation.Unit, &u) {
		return
	}
	u.ID = 0
	u.Status = ""
	if err := h.repo.Create(c.Request.Context(), &u); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *UnitHandler) Update(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	u, err := h.repo.GetByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !bind(c, validation.Unit, u) {
		return
	}
	u.ID = id
	if err := h.repo.Update(ctx, u); err != nil {
		respondError(c, err)
		return
	}
	u, err = h.repo.GetByID(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *UnitHandler) Delete(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
