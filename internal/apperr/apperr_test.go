package apperr

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesOnKindAlone(t *testing.T) {
	err := Wrap(KindTimeout, "fetch spot price", errors.New("dial timeout"))
	assert.True(t, errors.Is(err, New(KindTimeout, "")))
	assert.False(t, errors.Is(err, New(KindRateLimited, "")))
}

func TestKindOf_DefaultsToInternalForUnknownErrors(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain error")))
	assert.Equal(t, KindNotFound, KindOf(New(KindNotFound, "missing")))
}

func TestHTTPStatus_MapsEachKind(t *testing.T) {
	cases := []struct {
		kind   Kind
		status int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindTimeout, http.StatusServiceUnavailable},
		{KindUpstreamUnavailable, http.StatusServiceUnavailable},
		{KindRateLimited, http.StatusServiceUnavailable},
		{KindBreakerOpen, http.StatusServiceUnavailable},
		{KindParseError, http.StatusBadGateway},
		{KindValidation, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, c := range cases {
		status, _ := HTTPStatus(New(c.kind, "x"))
		assert.Equal(t, c.status, status, c.kind.String())
	}
}

func TestHTTPStatus_DefaultsRetryAfterWhenUnset(t *testing.T) {
	status, retryAfter := HTTPStatus(New(KindUpstreamUnavailable, "down"))
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, 30*time.Second, retryAfter)
}

func TestHTTPStatus_HonorsExplicitRetryAfter(t *testing.T) {
	err := New(KindRateLimited, "slow down").WithRetryAfter(5 * time.Second)
	_, retryAfter := HTTPStatus(err)
	assert.Equal(t, 5*time.Second, retryAfter)
}
