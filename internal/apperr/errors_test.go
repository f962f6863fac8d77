package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_Kind(t *testing.T) {
	assert.Equal(t, KindBadInput, KindOf(BadInput("x")))
	assert.Equal(t, KindUnauthenticated, KindOf(Unauthenticated("x")))
	assert.Equal(t, KindForbidden, KindOf(Forbidden("x")))
	assert.Equal(t, KindCreditExhausted, KindOf(CreditExhausted("x")))
	assert.Equal(t, KindRateLimited, KindOf(RateLimited("x")))
	assert.Equal(t, KindTransient, KindOf(Transient("x", errors.New("boom"))))
	assert.Equal(t, KindInternal, KindOf(Internal("x", errors.New("boom"))))
}

func TestKindOf_NonAppErrDefaultsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("plain error")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestKindOf_UnwrapsWrappedError(t *testing.T) {
	base := BadInput("bad field")
	wrapped := fmt.Errorf("context: %w", base)
	assert.Equal(t, KindBadInput, KindOf(wrapped))
}

func TestError_MessageFormatting(t *testing.T) {
	e := New(KindBadInput, "missing field")
	assert.Equal(t, "missing field", e.Error())

	cause := errors.New("underlying")
	wrapped := Wrap(KindInternal, "load failed", cause)
	assert.Equal(t, "load failed: underlying", wrapped.Error())
	require.ErrorIs(t, wrapped, cause)
}
