// Package validation checks request bodies against the JSON schemas under
// schemas/ before they are bound into handler structs.
package validation

import (
	"embed"
	"errors"
	"path"
	"sort"
	"strings"
	"sync"

	"storagedesk/internal/apperr"

	"github.com/xeipuuv/gojsonschema"
	"github.com/zeebo/errs"
)

// Schema names.
const (
	LeaseCreate   = "lease_create"
	Unit          = "unit"
	Tenant        = "tenant"
	InvoiceCreate = "invoice_create"
	Charge        = "charge"
	Refund        = "refund"
	Card          = "card"
)

//go:embed schemas/*.json
var files embed.FS

var (
	loadOnce sync.Once
	schemas  map[string]*gojsonschema.Schema
	loadErr  error
)

func load() {
	schemas = make(map[string]*gojsonschema.Schema)
	entries, err := files.ReadDir("schemas")
	if err != nil {
		loadErr = err
		return
	}
	for _, e := range entries {
		data, err := files.ReadFile(path.Join("schemas", e.Name()))
		if err != nil {
			loadErr = err
			return
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
		if err != nil {
			loadErr = errs.New("schema %s: %v", e.Name(), err)
			return
		}
		schemas[strings.TrimSuffix(e.Name(), ".json")] = s
	}
}

// Error carries every schema violation found in a body.
type Error struct {
	Details []string
}

func (e *Error) Error() string {
	return strings.Join(e.Details, "; ")
}

// Validate checks body against the named schema. Violations are returned as
// a ValidationError wrapping *Error.
func Validate(name string, body []byte) error {
	loadOnce.Do(load)
	if loadErr != nil {
		return apperr.ConfigError.Wrap(loadErr)
	}
	schema, ok := schemas[name]
	if !ok {
		return apperr.ConfigError.New("unknown schema %q", name)
	}
	if len(body) == 0 {
		return apperr.ValidationError.New("request body is required")
	}
	res, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apperr.ValidationError.New("invalid JSON: %v", err)
	}
	if res.Valid() {
		return nil
	}
	details := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		details = append(details, e.String())
	}
	sort.Strings(details)
	return apperr.ValidationError.Wrap(&Error{Details: details})
}

// Details returns the individual violations carried by err, if any.
func Details(err error) []string {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Details
	}
	return nil
}
