package enums

// PaymentEventOutcome records what the webhook bridge did with a delivery.
type PaymentEventOutcome string

const (
	PaymentEventProcessed PaymentEventOutcome = "processed"
	PaymentEventDuplicate PaymentEventOutcome = "duplicate"
	PaymentEventIgnored   PaymentEventOutcome = "ignored"
	PaymentEventUnmatched PaymentEventOutcome = "unmatched"
	// PaymentEventRefundRequired marks money captured for an order that was
	// already cancelled. The capture is kept on the order and an operator
	// must refund it.
	PaymentEventRefundRequired PaymentEventOutcome = "refund_required"
)
