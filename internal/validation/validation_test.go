package validation

import (
	"testing"

	"storagedesk/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEverySchemaCompiles(t *testing.T) {
	for _, name := range []string{LeaseCreate, Unit, Tenant, InvoiceCreate, Charge, Refund, Card} {
		err := Validate(name, []byte(`{}`))
		assert.False(t, apperr.ConfigError.Has(err), name)
	}
}

func TestLeaseCreate(t *testing.T) {
	ok := `{"unit_id":1,"tenant_id":2,"start_date":"2025-03-15","rent_cents":10000,"square_card_id":null}`
	require.NoError(t, Validate(LeaseCreate, []byte(ok)))

	err := Validate(LeaseCreate, []byte(`{"unit_id":0,"start_date":"15/03/2025","rent_cents":-1}`))
	require.Error(t, err)
	assert.True(t, apperr.ValidationError.Has(err))
	details := Details(err)
	assert.GreaterOrEqual(t, len(details), 4)
	assert.Contains(t, err.Error(), "tenant_id")
}

func TestMalformedBody(t *testing.T) {
	err := Validate(Unit, []byte(`{"number":`))
	assert.True(t, apperr.ValidationError.Has(err))

	err = Validate(Unit, nil)
	assert.True(t, apperr.ValidationError.Has(err))
	assert.Nil(t, Details(err))
}

func TestUnknownSchema(t *testing.T) {
	err := Validate("nope", []byte(`{}`))
	assert.True(t, apperr.ConfigError.Has(err))
}

func TestInvoiceKindEnum(t *testing.T) {
	body := `{"lease_id":3,"amount_cents":500,"due_date":"2025-04-01","kind":"late"}`
	err := Validate(InvoiceCreate, []byte(body))
	assert.True(t, apperr.ValidationError.Has(err))

	body = `{"lease_id":3,"amount_cents":500,"due_date":"2025-04-01","kind":"fee"}`
	assert.NoError(t, Validate(InvoiceCreate, []byte(body)))
}
