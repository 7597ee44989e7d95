package repository

import (
	"errors"

	"storagedesk/internal/apperr"

	"gorm.io/gorm"
)

// classify maps gorm failures onto the shared error classes.
func classify(err error, what string, id uint) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFoundError.New("%s %d", what, id)
	}
	return apperr.StoreError.Wrap(err)
}
