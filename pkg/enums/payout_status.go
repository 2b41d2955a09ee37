package enums

// PayoutStatus tracks settlement of a vendor payout.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusPaid       PayoutStatus = "paid"
)

var payoutStatuses = values[PayoutStatus]{
	PayoutStatusPending,
	PayoutStatusProcessing,
	PayoutStatusPaid,
}

// String implements fmt.Stringer.
func (p PayoutStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutStatus.
func (p PayoutStatus) IsValid() bool { return payoutStatuses.has(p) }

// CanTransitionTo reports whether a payout may move from p to next.
func (p PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	switch p {
	case PayoutStatusPending:
		return next == PayoutStatusProcessing
	case PayoutStatusProcessing:
		return next == PayoutStatusPaid
	default:
		return false
	}
}

// ParsePayoutStatus converts raw input into a PayoutStatus.
func ParsePayoutStatus(value string) (PayoutStatus, error) {
	return payoutStatuses.parse("payout status", value)
}
