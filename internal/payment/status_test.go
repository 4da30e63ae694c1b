package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapGatewayStatus(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected Status
	}{
		{name: "Success", raw: "success", expected: StatusSuccess},
		{name: "Failed", raw: "failed", expected: StatusFailed},
		{name: "Abandoned", raw: "abandoned", expected: StatusPending},
		{name: "Ongoing", raw: "ongoing", expected: StatusPending},
		{name: "Empty", raw: "", expected: StatusPending},
		{name: "Unknown", raw: "something-new", expected: StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapGatewayStatus(tt.raw))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestDonationStatusFor(t *testing.T) {
	assert.Equal(t, DonationCompleted, DonationStatusFor(StatusSuccess))
	assert.Equal(t, DonationFailed, DonationStatusFor(StatusFailed))
}
