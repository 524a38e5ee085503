package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func resetHealthChecker() {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "running")

	require.Len(t, healthChecker.components, 1)
	comp := healthChecker.components["engine"]
	require.True(t, comp.Healthy)
	require.Equal(t, "running", comp.Message)
}

func TestGetHealth_AllHealthy(t *testing.T) {
	resetHealthChecker()
	healthChecker.version = "1.0.0"

	RegisterComponent("engine", true, "")
	RegisterComponent("transport", true, "")

	health := GetHealth()

	require.Equal(t, "healthy", health.Status)
	require.Len(t, health.Components, 2)
	require.Equal(t, "1.0.0", health.Version)
}

func TestGetHealth_OneUnhealthy(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "")
	RegisterComponent("transport", false, "not connected")

	health := GetHealth()

	require.Equal(t, "unhealthy", health.Status)
	require.Equal(t, "unhealthy: not connected", health.Components["transport"])
}

// GetReadiness only looks at the components it considers critical
// (engine, transport) - registering anything else has no bearing on
// readiness.
func TestGetReadiness_AllReady(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "")
	RegisterComponent("transport", true, "")

	readiness := GetReadiness()

	require.Equal(t, "ready", readiness.Status)
}

func TestGetReadiness_MissingCriticalComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "")
	// transport not registered

	readiness := GetReadiness()

	require.Equal(t, "not_ready", readiness.Status)
	require.NotEmpty(t, readiness.Message)
}

func TestGetReadiness_CriticalComponentUnhealthy(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", false, "not running")
	RegisterComponent("transport", true, "")

	readiness := GetReadiness()

	require.Equal(t, "not_ready", readiness.Status)
}

func TestHealthHandler(t *testing.T) {
	resetHealthChecker()
	healthChecker.version = "test"

	RegisterComponent("engine", true, "")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	HealthHandler()(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, "test", health.Version)
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", false, "broken")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	HealthHandler()(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&health))
	require.Equal(t, "unhealthy", health.Status)
}

func TestReadyHandler(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "")
	RegisterComponent("transport", true, "")

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	ReadyHandler()(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var readiness HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readiness))
	require.Equal(t, "ready", readiness.Status)
}

func TestReadyHandler_NotReady(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "")
	// transport not registered

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()

	ReadyHandler()(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var readiness HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&readiness))
	require.Equal(t, "not_ready", readiness.Status)
}

func TestLivenessHandler(t *testing.T) {
	resetHealthChecker()

	req := httptest.NewRequest("GET", "/live", nil)
	w := httptest.NewRecorder()

	LivenessHandler()(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	require.Equal(t, "alive", response["status"])
	require.NotEmpty(t, response["uptime"])
}

func TestUpdateComponent(t *testing.T) {
	resetHealthChecker()

	RegisterComponent("engine", true, "ok")
	UpdateComponent("engine", false, "error")

	comp := healthChecker.components["engine"]
	require.False(t, comp.Healthy)
	require.Equal(t, "error", comp.Message)
}
