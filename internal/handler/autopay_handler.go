package handler

import (
	"net/http"

	"storagedesk/internal/apperr"
	"storagedesk/internal/autopay"
	"storagedesk/internal/models"

	"github.com/gin-gonic/gin"
)

type AutopayHandler struct {
	runner *autopay.Runner
}

func NewAutopayHandler(runner *autopay.Runner) *AutopayHandler {
	return &AutopayHandler{runner: runner}
}

// Run charges every lease due on ?date= (default today, UTC). It serves both
// POST /run and GET /run-test.
func (h *AutopayHandler) Run(c *gin.Context) {
	if h.runner == nil {
		respondError(c, apperr.ConfigError.New("autopay is not configured"))
		return
	}
	date, ok := queryDate(c, "date", models.Today())
	if !ok {
		return
	}
	summary, err := h.runner.Run(c.Request.Context(), date)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
