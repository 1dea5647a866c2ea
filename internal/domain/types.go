package domain

import (
	"time"

	"github.com/google/uuid"
)

type BlockingStatus string

const (
	BlockingHeld      BlockingStatus = "held"
	BlockingConfirmed BlockingStatus = "confirmed"
	BlockingExpired   BlockingStatus = "expired"
	BlockingCancelled BlockingStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s BlockingStatus) Terminal() bool {
	return s == BlockingConfirmed || s == BlockingExpired || s == BlockingCancelled
}

type Bus struct {
	ID          int64     `json:"id"`
	BusNumber   string    `json:"bus_number"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	StartTime   time.Time `json:"start_time"`
}

type Stop struct {
	ID       int64     `json:"id"`
	BusID    int64     `json:"bus_id"`
	StopName string    `json:"stop_name"`
	StopTime time.Time `json:"stop_time"`
}

type Seat struct {
	ID         int64  `json:"id"`
	BusID      int64  `json:"bus_id"`
	SeatNumber string `json:"seat_number"`
}

// SeatWithStatus is a seat together with its availability as derived from the
// claim ledger at query time. There is no stored availability flag.
type SeatWithStatus struct {
	Seat
	Available bool `json:"available"`
}

type BusCounts struct {
	Free   int64 `json:"free"`
	Held   int64 `json:"held"`
	Booked int64 `json:"booked"`
	Total  int64 `json:"total"`
}

type Blocking struct {
	ID             uuid.UUID      `json:"id"`
	BusID          int64          `json:"bus_id"`
	UserID         int64          `json:"user_id"`
	PassengerCount int            `json:"passenger_count"`
	PickupStopID   int64          `json:"pickup_stop_id"`
	Status         BlockingStatus `json:"status"`
	SeatIDs        []int64        `json:"seat_ids"`
	CreatedAt      time.Time      `json:"created_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
}

type Booking struct {
	ID         uuid.UUID `json:"id"`
	BlockingID uuid.UUID `json:"blocking_id"`
	CreatedAt  time.Time `json:"created_at"`
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
