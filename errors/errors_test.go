package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_ErrorString(t *testing.T) {
	base := fmt.Errorf("connection refused")
	e := Wrap(ConnectionFailed, "dial portal", base)
	assert.Equal(t, "connection_failed: dial portal: connection refused", e.Error())
}

func TestError_ErrorString_NoWrappedErr(t *testing.T) {
	e := M(NavigationStuck, "no match for required field year")
	assert.Equal(t, "navigation_stuck: no match for required field year", e.Error())
}

func TestError_Unwrap(t *testing.T) {
	base := fmt.Errorf("boom")
	e := E(Internal, base)
	assert.Equal(t, base, e.Unwrap())
}

func TestError_HTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, M(ClaimLost, "").HTTPStatus())
	assert.Equal(t, http.StatusOK, M(ClarificationNeeded, "").HTTPStatus())
}

func TestIs(t *testing.T) {
	var err error = M(SessionLimit, "max sessions reached")
	assert.True(t, Is(err, SessionLimit))
	assert.False(t, Is(err, LoginFailed))
	assert.False(t, Is(fmt.Errorf("plain"), SessionLimit))
}

func TestValidationErrors_AccumulatesAll(t *testing.T) {
	ve := ValidationErrs()
	assert.NoError(t, ve.Err())

	ve.Add("shop_id", "is required")
	ve.Add("server_urls", "at least one required")

	err := ve.Err()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "shop_id")
	assert.Contains(t, err.Error(), "server_urls")
	assert.True(t, Is(err, ConfigInvalid))
}
