package httpgin

import "time"

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

type RegisterResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type CreateBusRequest struct {
	BusNumber   string      `json:"bus_number" binding:"required"`
	Source      string      `json:"source" binding:"required"`
	Destination string      `json:"destination" binding:"required"`
	StartTime   string      `json:"start_time" binding:"required"`
	Stops       []StopInput `json:"stops" binding:"dive"`
	SeatNumbers []string    `json:"seat_numbers" binding:"required,min=1,dive,required"`
}

type StopInput struct {
	StopName string `json:"stop_name" binding:"required"`
	StopTime string `json:"stop_time" binding:"required"`
}

type CreateBusResponse struct {
	BusID int64 `json:"bus_id"`
}

type CreateBlockingRequest struct {
	BusID          int64 `json:"bus_id" binding:"required"`
	PassengerCount int   `json:"number_of_passengers" binding:"required,gte=1"`
	PickupStopID   int64 `json:"pickup_point" binding:"required"`
}

type BlockingResponse struct {
	BlockingID     string    `json:"blocking_id"`
	BusID          int64     `json:"bus_id"`
	PassengerCount int       `json:"number_of_passengers"`
	PickupStopID   int64     `json:"pickup_point"`
	Status         string    `json:"status"`
	SeatIDs        []int64   `json:"seat_ids"`
	ExpiresAt      time.Time `json:"expires_at"`
}

type BookingResponse struct {
	BookingID   string    `json:"booking_id"`
	BlockingID  string    `json:"blocking_id"`
	BookingDate time.Time `json:"booking_date"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func parseRFC3339(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
