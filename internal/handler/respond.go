package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"

	"storagedesk/internal/apperr"
	"storagedesk/internal/models"
	"storagedesk/internal/validation"

	"github.com/gin-gonic/gin"
)

const maxBody = 1 << 20

// respondError writes {"error": ...} with the status of err's class. Schema
// violations also carry "details".
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	body := gin.H{"error": apperr.Message(err)}
	if details := validation.Details(err); len(details) > 0 {
		body["details"] = details
	}
	c.AbortWithStatusJSON(apperr.HTTPStatus(err), body)
}

// bind checks the request body against schema and decodes it into dst.
func bind(c *gin.Context, schema string, dst interface{}) bool {
	return decode(c, schema, dst, false)
}

// bindOptional is bind for endpoints whose body may be omitted entirely.
func bindOptional(c *gin.Context, schema string, dst interface{}) bool {
	return decode(c, schema, dst, true)
}

func decode(c *gin.Context, schema string, dst interface{}, optional bool) bool {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		respondError(c, apperr.ValidationError.New("reading body: %v", err))
		return false
	}
	if optional && len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if err := validation.Validate(schema, body); err != nil {
		respondError(c, err)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		respondError(c, apperr.ValidationError.New("invalid body: %v", err))
		return false
	}
	return true
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondError(c, apperr.ValidationError.New("invalid %s", name))
		return 0, false
	}
	return uint(id), true
}

func queryID(c *gin.Context, name string) (uint, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(c, apperr.ValidationError.New("invalid %s", name))
		return 0, false
	}
	return uint(id), true
}

// queryDate parses ?name=YYYY-MM-DD, falling back to def when absent.
func queryDate(c *gin.Context, name string, def models.Date) (models.Date, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	d, err := models.ParseDate(raw)
	if err != nil {
		respondError(c, apperr.ValidationError.New("%s must be YYYY-MM-DD", name))
		return models.Date{}, false
	}
	return d, true
}
