package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/olekht/bustix-go/internal/domain"
	"github.com/olekht/bustix-go/internal/repository"
	redisrepo "github.com/olekht/bustix-go/internal/repository/redis"
	"github.com/olekht/bustix-go/internal/service"
	"github.com/olekht/bustix-go/internal/service/auth"
	"github.com/olekht/bustix-go/internal/service/booking"
	"github.com/olekht/bustix-go/internal/service/reservation"
	"github.com/olekht/bustix-go/internal/service/schedule"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/register", handleRegister(svcs))
	r.POST("/login", handleLogin(svcs))

	api := r.Group("/api", AuthMiddleware(svcs.Auth))
	{
		api.GET("/buses", handleListBuses(svcs))
		api.POST("/buses", handleCreateBus(svcs))
		api.GET("/buses/:id", handleGetBus(svcs))
		api.GET("/buses/:id/stops", handleListStops(svcs))
		api.GET("/buses/:id/seats", handleListSeats(svcs))
		api.GET("/buses/:id/availability", handleGetAvailability(svcs))

		api.POST("/blockings", handleCreateBlocking(svcs, idem))
		api.GET("/blockings/:id", handleGetBlocking(svcs))
		api.POST("/blockings/:id/confirm", handleConfirmBlocking(svcs))
		api.POST("/blockings/:id/cancel", handleCancelBlocking(svcs))

		api.GET("/bookings", handleListBookings(svcs))
		api.GET("/bookings/:id", handleGetBooking(svcs))
	}

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Register user
// @Param    req body  RegisterRequest true "payload"
// @Success  201 {object} RegisterResponse
// @Failure  409 {object} ErrorResponse
// @Router   /register [post]
func handleRegister(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		u, err := svcs.Auth.Register(c.Request.Context(), req.Username, req.Email, req.Password)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, RegisterResponse{
			UserID:   u.ID,
			Username: u.Username,
			Email:    u.Email,
		})
	}
}

// @Summary  Login
// @Param    req body  LoginRequest true "payload"
// @Success  200 {object} LoginResponse
// @Failure  401 {object} ErrorResponse
// @Router   /login [post]
func handleLogin(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		token, err := svcs.Auth.Login(c.Request.Context(), req.Username, req.Password)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, LoginResponse{Token: token})
	}
}

// @Summary  List buses
// @Param    source      query string false "exact source"
// @Param    destination query string false "exact destination"
// @Param    search      query string false "substring over number/source/destination"
// @Param    ordering    query string false "start_time"
// @Success  200 {array} domain.Bus
// @Router   /api/buses [get]
func handleListBuses(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := repository.BusFilter{
			Source:      c.Query("source"),
			Destination: c.Query("destination"),
			Search:      c.Query("search"),
			Limit:       parseIntDefault(c.Query("limit"), 0),
			Offset:      parseIntDefault(c.Query("offset"), 0),
		}
		if c.Query("ordering") == "start_time" {
			f.OrderBy = "start_time"
		}

		buses, err := svcs.Schedule.ListBuses(c.Request.Context(), f)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, buses, "public, max-age=60", true)
	}
}

// @Summary  Create bus with stops and seat layout
// @Param    req body  CreateBusRequest true "payload"
// @Success  201 {object} CreateBusResponse
// @Failure  400 {object} ErrorResponse
// @Router   /api/buses [post]
func handleCreateBus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		start, err := parseRFC3339(req.StartTime)
		if err != nil {
			badRequest(c, "invalid start_time (RFC3339)")
			return
		}

		stops := make([]domain.Stop, 0, len(req.Stops))
		for _, in := range req.Stops {
			st, err := parseRFC3339(in.StopTime)
			if err != nil {
				badRequest(c, "invalid stop_time (RFC3339)")
				return
			}
			stops = append(stops, domain.Stop{StopName: in.StopName, StopTime: st})
		}

		id, err := svcs.Schedule.CreateBus(c.Request.Context(), domain.Bus{
			BusNumber:   req.BusNumber,
			Source:      req.Source,
			Destination: req.Destination,
			StartTime:   start,
		}, stops, req.SeatNumbers)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, CreateBusResponse{BusID: id})
	}
}

// @Summary  Get bus
// @Param    id  path  int  true  "Bus ID"
// @Success  200 {object} domain.Bus
// @Failure  404 {object} ErrorResponse
// @Router   /api/buses/{id} [get]
func handleGetBus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		busID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Schedule.GetBus(c.Request.Context(), busID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, b, "public, max-age=60", true)
	}
}

// @Summary  List bus stops
// @Param    id     path   int     true  "Bus ID"
// @Param    search query  string  false "substring over stop_name"
// @Success  200 {array} domain.Stop
// @Router   /api/buses/{id}/stops [get]
func handleListStops(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		busID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		stops, err := svcs.Schedule.ListStops(c.Request.Context(), repository.StopFilter{
			BusID:  busID,
			Search: c.Query("search"),
			Limit:  parseIntDefault(c.Query("limit"), 0),
			Offset: parseIntDefault(c.Query("offset"), 0),
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, stops, "public, max-age=60", true)
	}
}

// @Summary  List bus seats with derived availability
// @Param    id    path  int     true  "Bus ID"
// @Param    only  query string  false "available"
// @Success  200 {array} domain.SeatWithStatus
// @Router   /api/buses/{id}/seats [get]
func handleListSeats(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		busID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}

		if c.Query("only") == "available" {
			seats, err := svcs.Reservation.FreeSeats(c.Request.Context(), busID)
			if err != nil {
				respondErr(c, err)
				return
			}
			writeJSONWithCache(c, http.StatusOK, seats, "public, max-age=15", true)
			return
		}

		seats, err := svcs.Reservation.SeatsWithStatus(c.Request.Context(), busID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, seats, "public, max-age=15", true)
	}
}

// @Summary  Get availability counters
// @Param    id  path  int  true  "Bus ID"
// @Success  200 {object} domain.BusCounts
// @Router   /api/buses/{id}/availability [get]
func handleGetAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		busID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		cnt, err := svcs.Reservation.Availability(c.Request.Context(), busID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, cnt, "public, max-age=15", true)
	}
}

// @Summary  Create blocking (idempotent)
// @Param    req body  CreateBlockingRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} BlockingResponse
// @Failure  400 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "seats unavailable / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Router   /api/blockings [post]
func handleCreateBlocking(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateBlockingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemBlocking(req.BusID, idemKey)

			if payload, ok, _ := idem.GetResult(
				c.Request.Context(),
				idemStorageKey,
			); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(
					http.StatusCreated,
					"application/json; charset=utf-8",
					[]byte(payload),
				)
				return
			}

			locked, err := idem.AcquireLock(
				c.Request.Context(),
				idemStorageKey,
				60*time.Second,
			)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(
					c.Request.Context(),
					idemStorageKey,
				); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(
						http.StatusCreated,
						"application/json; charset=utf-8",
						[]byte(payload),
					)
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(
					http.StatusConflict,
					ErrorResponse{Error: "idempotency key in progress"},
				)
				return
			}
		}

		rlKey := "ip:" + c.ClientIP()

		b, err := svcs.Reservation.CreateBlocking(
			c.Request.Context(),
			callerID(c),
			req.BusID,
			req.PassengerCount,
			req.PickupStopID,
			rlKey,
		)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := blockingResponse(b)

		if idemStorageKey != "" && idem != nil {
			payload, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(payload))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Get blocking
// @Param    id  path  string  true  "Blocking ID (uuid)"
// @Success  200 {object} BlockingResponse
// @Failure  404 {object} ErrorResponse
// @Router   /api/blockings/{id} [get]
func handleGetBlocking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Reservation.GetBlocking(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, blockingResponse(b))
	}
}

// @Summary  Confirm blocking into a booking
// @Param    id  path  string  true  "Blocking ID (uuid)"
// @Success  201 {object} BookingResponse
// @Failure  409 {object} ErrorResponse "expired / already finalized"
// @Router   /api/blockings/{id}/confirm [post]
func handleConfirmBlocking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		bk, err := svcs.Reservation.ConfirmBlocking(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, BookingResponse{
			BookingID:   bk.ID.String(),
			BlockingID:  bk.BlockingID.String(),
			BookingDate: bk.CreatedAt,
		})
	}
}

// @Summary  Cancel blocking
// @Param    id  path  string  true  "Blocking ID (uuid)"
// @Success  204
// @Failure  409 {object} ErrorResponse
// @Router   /api/blockings/{id}/cancel [post]
func handleCancelBlocking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		if err := svcs.Reservation.CancelBlocking(c.Request.Context(), id); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary  List bookings
// @Param    blocking query string false "Blocking ID (uuid)"
// @Success  200 {array} domain.Booking
// @Router   /api/bookings [get]
func handleListBookings(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		f := repository.BookingFilter{
			Limit:  parseIntDefault(c.Query("limit"), 0),
			Offset: parseIntDefault(c.Query("offset"), 0),
		}
		if raw := c.Query("blocking"); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				badRequest(c, "invalid blocking")
				return
			}
			f.BlockingID = id
		}

		out, err := svcs.Booking.ListBookings(c.Request.Context(), f)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

// @Summary  Get booking
// @Param    id  path  string  true  "Booking ID (uuid)"
// @Success  200 {object} domain.Booking
// @Failure  404 {object} ErrorResponse
// @Router   /api/bookings/{id} [get]
func handleGetBooking(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		b, err := svcs.Booking.GetBooking(c.Request.Context(), id)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// --- Helpers ---

func blockingResponse(b *domain.Blocking) BlockingResponse {
	return BlockingResponse{
		BlockingID:     b.ID.String(),
		BusID:          b.BusID,
		PassengerCount: b.PassengerCount,
		PickupStopID:   b.PickupStopID,
		Status:         string(b.Status),
		SeatIDs:        b.SeatIDs,
		ExpiresAt:      b.ExpiresAt,
	}
}

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// auth service
	case errors.Is(err, auth.ErrUsernameTaken):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "username already taken"})
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		return
	// schedule service
	case errors.Is(err, schedule.ErrBusNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "bus not found"})
		return
	case errors.Is(err, schedule.ErrStopNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "stop not found"})
		return
	case errors.Is(err, schedule.ErrInvalidLayout):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid bus layout"})
		return
	case errors.Is(err, schedule.ErrBusConflict):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "bus conflict"})
		return
	// booking service
	case errors.Is(err, booking.ErrBookingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "booking not found"})
		return
	// reservation service
	case errors.Is(err, reservation.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, reservation.ErrBusNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "bus not found"})
		return
	case errors.Is(err, reservation.ErrBlockingNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "blocking not found"})
		return
	case errors.Is(err, reservation.ErrSeatsUnavailable):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "seats unavailable"})
		return
	case errors.Is(err, reservation.ErrBlockingExpired):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "blocking expired"})
		return
	case errors.Is(err, reservation.ErrAlreadyFinalized):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "blocking already finalized"})
		return
	case errors.Is(err, reservation.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
		return
	// storage-level conflicts (serialization failures that escaped the
	// coordinator's retries, unique violations) are retryable by the client
	case errors.Is(err, repository.ErrConflict):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict, retry"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
