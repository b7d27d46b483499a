package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthz(t *testing.T) {
	s := &Server{}
	body, status, err := s.healthz(nil, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]string{"status": "ok"}, body)
}

func TestStatus_NoPoolUnavailable(t *testing.T) {
	s := &Server{}
	body, status, err := s.status(nil, nil)

	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, map[string]string{"status": "pool not ready"}, body)
}

func TestToHTTPHandlerFunc_WritesJSONOnSuccess(t *testing.T) {
	s := &Server{Logger: zap.NewNop()}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.ToHTTPHandlerFunc(s.healthz)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
