package domain

const (
	UnitVacant   = "vacant"
	UnitOccupied = "occupied"
)

const (
	LeaseActive = "active"
	LeaseEnded  = "ended"
)

// Ledger entry outcomes. A refund that the gateway accepted is recorded as paid.
const (
	PaymentPaid   = "paid"
	PaymentFailed = "failed"
)

const (
	PaymentKindAutopay = "autopay"
	PaymentKindManual  = "manual"
	PaymentKindRefund  = "refund"
)

const (
	InvoiceOpen = "open"
	InvoicePaid = "paid"
	InvoiceVoid = "void"
)

const (
	InvoiceKindRent    = "rent"
	InvoiceKindDeposit = "deposit"
	InvoiceKindFee     = "fee"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleClerk   = "clerk"
)

const (
	GatewaySquare = "square"
	GatewayStripe = "stripe"
	GatewayStub   = "stub"
)

// Payment list bounds for GET /api/payments.
const (
	DefaultPaymentLimit = 100
	MaxPaymentLimit     = 500
)
