package polymarket

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

func TestHTTPError_Error(t *testing.T) {
	err := &httpError{status: 503, body: "service unavailable"}
	assert.Equal(t, "clob http 503: service unavailable", err.Error())
}

func TestHTTPError_ExecutorKind(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   domain.ExecutorErrorKind
	}{
		{"network failure has no status", 0, domain.ErrTransient},
		{"unauthorized", http.StatusUnauthorized, domain.ErrAuth},
		{"forbidden", http.StatusForbidden, domain.ErrAuth},
		{"unprocessable entity", http.StatusUnprocessableEntity, domain.ErrValidation},
		{"bad request", http.StatusBadRequest, domain.ErrValidation},
		{"internal server error", http.StatusInternalServerError, domain.ErrVenue5xx},
		{"bad gateway", http.StatusBadGateway, domain.ErrVenue5xx},
		{"not found", http.StatusNotFound, domain.ErrVenue4xx},
		{"conflict", http.StatusConflict, domain.ErrVenue4xx},
		{"unrecognized 2xx-ish status falls back transient", http.StatusOK, domain.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &httpError{status: tt.status}
			assert.Equal(t, tt.want, err.ExecutorKind())
		})
	}
}
