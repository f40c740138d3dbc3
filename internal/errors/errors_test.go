package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	e := New(KindNotFound, "registry.Get", "space %q not found", "docs")
	assert.Equal(t, `registry.Get: space "docs" not found`, e.Error())

	wrapped := Wrap(KindInternal, "store.Write", stderrors.New("disk full"))
	assert.Contains(t, wrapped.Error(), "store.Write")
	assert.Contains(t, wrapped.Error(), "disk full")
	assert.Equal(t, "disk full", wrapped.Unwrap().Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(NotFound("op", "space", "docs")))
	assert.Equal(t, KindValidationFailed, KindOf(Validation("op", "bad input")))
	assert.Equal(t, KindInternal, KindOf(stderrors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))

	// kind survives wrapping through the standard library
	inner := New(KindBusy, "op", "busy")
	outer := stderrors.Join(inner)
	assert.Equal(t, KindBusy, KindOf(outer))
	assert.True(t, Is(outer, KindBusy))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindValidationFailed, http.StatusBadRequest},
		{KindPermissionDenied, http.StatusForbidden},
		{KindConflict, http.StatusConflict},
		{KindBusy, http.StatusConflict},
		{KindUpstreamUnavailable, http.StatusBadGateway},
		{KindInternal, http.StatusInternalServerError},
		{Kind("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.kind), string(tt.kind))
	}
}

func TestSafeHidesInternalDetail(t *testing.T) {
	assert.Equal(t, "internal error", Safe(stderrors.New("open /etc/shadow: permission denied")))
	assert.Equal(t, "internal error", Safe(Wrap(KindInternal, "op", stderrors.New("sql: broken"))))
	assert.Equal(t, `space "docs" not found`, Safe(NotFound("op", "space", "docs")))
}
