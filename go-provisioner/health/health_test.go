package health

import (
	"encoding/json"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getHealth(t *testing.T, s *Server) (int, statusResponse) {
	t.Helper()
	_, port, err := net.SplitHostPort(s.Addr())
	require.NoError(t, err)

	resp, err := http.Get("http://127.0.0.1:" + port + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestServer(t *testing.T) {
	s := NewServer(0, "rls_provisioner")
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })

	t.Run("starting until first report", func(t *testing.T) {
		code, body := getHealth(t, s)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, StatusStarting, body.Status)
		assert.Equal(t, "rls_provisioner", body.Service)
		assert.Empty(t, body.CheckedAt)
	})

	t.Run("healthy", func(t *testing.T) {
		s.Report(StatusHealthy, nil)
		code, body := getHealth(t, s)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusHealthy, body.Status)
		assert.NotEmpty(t, body.CheckedAt)
	})

	t.Run("drifted carries detail", func(t *testing.T) {
		s.Report(StatusDrifted, []string{"public.t: rls_disabled: row level security is not enabled"})
		code, body := getHealth(t, s)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, StatusDrifted, body.Status)
		assert.Equal(t, []string{"public.t: rls_disabled: row level security is not enabled"}, body.Detail)
		assert.Equal(t, StatusDrifted, s.GetStatus())
	})
}
