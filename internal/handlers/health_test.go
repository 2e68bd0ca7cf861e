package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"client-portal/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthReportsDisabledOptionalDeps(t *testing.T) {
	store := storage.NewLocalProvider(t.TempDir(), "http://localhost:8080/storage")
	h := NewHealthHandler(HealthDeps{Storage: store, AvatarBucket: "avatars"})

	router := gin.New()
	router.GET("/health", h.Health)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health?detailed=true", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "disabled", body.Checks["redis"].Status)
	assert.Equal(t, "disabled", body.Checks["nats"].Status)
	assert.Equal(t, "unhealthy", body.Checks["storage"].Status, "bucket was never created")
	assert.NotNil(t, body.System)
}

func TestReadyRequiresDatabase(t *testing.T) {
	store := storage.NewLocalProvider(t.TempDir(), "")
	_, err := storage.CreateBucketIfMissing(t.Context(), store, "avatars")
	require.NoError(t, err)

	h := NewHealthHandler(HealthDeps{Storage: store, AvatarBucket: "avatars"})
	router := gin.New()
	router.GET("/ready", h.Ready)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body.Status)
	assert.Equal(t, "healthy", body.Checks["storage"].Status)
	assert.Equal(t, "unhealthy", body.Checks["database"].Status)
}
