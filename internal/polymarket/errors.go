package polymarket

import (
	"fmt"
	"net/http"

	"github.com/alejandrodnm/coordinator-core/internal/domain"
)

// httpError tags a CLOB response with its status so the executor's retry
// classifier (internal/executor.ClassifyError) can dispatch on it directly
// via the classifiedError interface, without string-matching error text.
type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("clob http %d: %s", e.status, e.body)
}

// ExecutorKind implements the classifiedError seam executor.ClassifyError
// looks for.
func (e *httpError) ExecutorKind() domain.ExecutorErrorKind {
	switch {
	case e.status == 0:
		return domain.ErrTransient
	case e.status == http.StatusUnauthorized || e.status == http.StatusForbidden:
		return domain.ErrAuth
	case e.status == http.StatusUnprocessableEntity || e.status == http.StatusBadRequest:
		return domain.ErrValidation
	case e.status >= 500:
		return domain.ErrVenue5xx
	case e.status >= 400:
		return domain.ErrVenue4xx
	default:
		return domain.ErrTransient
	}
}
