package tunnel

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShooter struct{}

func (fakeShooter) Screenshot() ([]byte, error) { return []byte("png-bytes"), nil }

func TestStream_UnknownWorkerRespondsNotFound(t *testing.T) {
	s := New(func(id int) (Screenshotter, bool) { return nil, false })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Stream(w, r, 99)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, 0, s.Sessions())
}

func TestStream_KnownWorkerTracksSessionCount(t *testing.T) {
	s := New(func(id int) (Screenshotter, bool) { return fakeShooter{}, true })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Stream(w, r, 1)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	// Give Stream a moment to register the session before we assert.
	assert.Eventually(t, func() bool { return s.Sessions() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return s.Sessions() == 0 }, time.Second, 10*time.Millisecond)
}
