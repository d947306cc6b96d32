package enums

import "strings"

// PaymentStatus is the canonical four-way outcome of a provider callback,
// independent of the originating provider's vocabulary.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
	PaymentStatusUnknown  PaymentStatus = "unknown"
)

func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentStatusPending:
		return PaymentStatusPending, true
	case PaymentStatusApproved:
		return PaymentStatusApproved, true
	case PaymentStatusRejected:
		return PaymentStatusRejected, true
	case PaymentStatusUnknown:
		return PaymentStatusUnknown, true
	default:
		return "", false
	}
}
