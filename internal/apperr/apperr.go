// Package apperr defines the error classes shared by the API, the autopay
// runner and the payment gateways.
package apperr

import (
	"net/http"

	"github.com/zeebo/errs"
)

var (
	// ConfigError means a required collaborator is missing or unreachable.
	ConfigError = errs.Class("configuration error")
	// ValidationError means caller input was malformed or incomplete.
	ValidationError = errs.Class("validation error")
	// GatewayError means a payment processor rejected or could not be reached.
	GatewayError = errs.Class("gateway error")
	// StoreError means a persistence operation failed.
	StoreError = errs.Class("store error")

	NotFoundError = errs.Class("not found")
	ConflictError = errs.Class("conflict")
)

// HTTPStatus maps an error class onto a response status.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case ValidationError.Has(err):
		return http.StatusBadRequest
	case NotFoundError.Has(err):
		return http.StatusNotFound
	case ConflictError.Has(err):
		return http.StatusConflict
	case ConfigError.Has(err):
		return http.StatusServiceUnavailable
	case GatewayError.Has(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the text safe to show to API callers. Store and
// configuration errors are collapsed because driver and client messages can
// carry DSNs, hosts and usernames; the full error goes to the request log.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case StoreError.Has(err) || HTTPStatus(err) == http.StatusInternalServerError:
		return "internal error"
	case ConfigError.Has(err):
		return "service unavailable"
	}
	return err.Error()
}
