package payment

// Status is the lifecycle state of a payment transaction. Success and Failed
// are terminal: once either is reached no path may change it again.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Donation statuses mirror the linked transaction's terminal state.
const (
	DonationPending   = "pending"
	DonationCompleted = "completed"
	DonationFailed    = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// MapGatewayStatus maps a status reported by the gateway's verification API
// to a transaction status. Anything unrecognized, including "abandoned",
// counts as still pending: an abandoned checkout session can still complete
// while the widget is open, and the attempt cap bounds how long we keep
// asking.
func MapGatewayStatus(raw string) Status {
	switch raw {
	case "success":
		return StatusSuccess
	case "failed":
		return StatusFailed
	default:
		return StatusPending
	}
}

func DonationStatusFor(status Status) string {
	if status == StatusSuccess {
		return DonationCompleted
	}
	return DonationFailed
}
