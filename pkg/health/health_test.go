package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, c *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	c.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func ok(context.Context) error { return nil }

func TestReadiness_NotReadyUntilStarted(t *testing.T) {
	c := NewChecker("test")
	c.Register("database", PingFunc(ok), true)

	code, resp := serve(t, c, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)

	c.SetReady(true)
	code, resp = serve(t, c, "/health/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
}

func TestHealth_CriticalVersusDegraded(t *testing.T) {
	c := NewChecker("test")
	c.Register("database", PingFunc(ok), true)
	c.Register("kafka", PingFunc(func(context.Context) error { return errors.New("no brokers") }), false)

	code, resp := serve(t, c, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Equal(t, "no brokers", resp.Checks["kafka"].Message)

	c.Register("redis", PingFunc(func(context.Context) error { return errors.New("refused") }), true)
	code, resp = serve(t, c, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestLiveness(t *testing.T) {
	code, resp := serve(t, NewChecker("1.2.3"), "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1.2.3", resp.Version)
}
