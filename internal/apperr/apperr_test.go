package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf_WalksErisChain(t *testing.T) {
	base := Conflict("prospect %s already converted", "p1")
	wrapped := eris.Wrap(base, "conversion: convert")

	assert.Equal(t, KindConflict, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindConflict))
	assert.False(t, Is(wrapped, KindNotFound))

	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "prospect p1 already converted", e.Message)
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.False(t, Is(nil, KindUnknown))
}

func TestWrap_ErrorString(t *testing.T) {
	err := Wrap(KindProviderFailure, errors.New("status 503"), "apollo: enrich")
	assert.Equal(t, "apollo: enrich: status 503", err.Error())
	assert.ErrorContains(t, errors.Unwrap(err), "503")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindAccessDenied, http.StatusForbidden},
		{KindConflict, http.StatusConflict},
		{KindBadRequest, http.StatusBadRequest},
		{KindQuotaExceeded, http.StatusTooManyRequests},
		{KindProviderFailure, http.StatusBadGateway},
		{KindAllProvidersFailed, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
		{KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.kind, "x").HTTPStatus())
		})
	}
}

func TestWithDetails(t *testing.T) {
	err := New(KindQuotaExceeded, "quota").WithDetails(map[string]any{"usage": 25})
	assert.Equal(t, 25, err.Details["usage"])
}
