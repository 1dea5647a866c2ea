package httpgin

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/olekht/bustix-go/internal/repository"
	"github.com/stretchr/testify/assert"
)

func TestRespondErrMapsStorageConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	// A serialization failure that escaped the coordinator's retries arrives
	// op-wrapped around the storage sentinel; the client gets a retryable 409,
	// not a 500.
	respondErr(c, fmt.Errorf("service.reservation.ConfirmBlocking:%w", repository.ErrConflict))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestRespondErrUnknownErrorIs500(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	respondErr(c, fmt.Errorf("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
