package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fifo-allocator/internal/recompute"
	"fifo-allocator/internal/storage"
)

func TestHandle_MapsErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "not found", err: storage.ErrNotFound, status: http.StatusNotFound, code: ErrCodeNotFound},
		{name: "in progress", err: fmt.Errorf("wrapped: %w", recompute.ErrRunInProgress), status: http.StatusConflict, code: ErrCodeRunInProgress},
		{name: "superseded", err: fmt.Errorf("commit run: %w", storage.ErrSuperseded), status: http.StatusConflict, code: ErrCodeRunSuperseded},
		{name: "invalid", err: recompute.ErrInvalidRequest, status: http.StatusBadRequest, code: ErrCodeValidationFailed},
		{name: "unexpected", err: errors.New("socket closed"), status: http.StatusInternalServerError, code: ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			Handle(c, nil, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}
