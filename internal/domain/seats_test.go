package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortSeats(t *testing.T) {
	seats := []Seat{
		{ID: 1, SeatNumber: "10A"},
		{ID: 2, SeatNumber: "2B"},
		{ID: 3, SeatNumber: "2A"},
		{ID: 4, SeatNumber: "1"},
		{ID: 5, SeatNumber: "B1"},
		{ID: 6, SeatNumber: "10"},
	}

	SortSeats(seats)

	got := make([]string, 0, len(seats))
	for _, s := range seats {
		got = append(got, s.SeatNumber)
	}

	// Numeric prefix first, so "2A" comes before "10A"; seats without a
	// numeric prefix sort ahead on prefix 0.
	assert.Equal(t, []string{"B1", "1", "2A", "2B", "10", "10A"}, got)
}

func TestBlockingStatusTerminal(t *testing.T) {
	assert.False(t, BlockingHeld.Terminal())
	assert.True(t, BlockingConfirmed.Terminal())
	assert.True(t, BlockingExpired.Terminal())
	assert.True(t, BlockingCancelled.Terminal())
}
