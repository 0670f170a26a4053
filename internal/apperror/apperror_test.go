package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := NotFound("product not found")
	wrapped := fmt.Errorf("add item: %w", base)

	assert.Equal(t, KindNotFound, KindOf(base))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, base))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindBadRequest:      http.StatusBadRequest,
		KindUnauthorized:    http.StatusUnauthorized,
		KindForbidden:       http.StatusForbidden,
		KindNotFound:        http.StatusNotFound,
		KindConflict:        http.StatusConflict,
		KindTooManyRequests: http.StatusTooManyRequests,
		KindInternal:        http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, kind.HTTPStatus(), kind.String())
	}
}

func TestMessage_HidesInternalCause(t *testing.T) {
	assert.Equal(t, "Internal Server Error", Message(errors.New("pq: connection refused")))
	assert.Equal(t, "Internal Server Error", Message(Wrap(KindInternal, "db down", errors.New("x"))))
	assert.Equal(t, "cart empty or not found", Message(BadRequest("cart empty or not found")))
}
