package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGauges(t *testing.T) {
	SetPerformanceMode(2)
	SetThermalState(3)
	SetTemperature(51.5)
	SetPoolThreads("inference", 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(performanceMode))
	assert.Equal(t, 3.0, testutil.ToFloat64(thermalState))
	assert.Equal(t, 51.5, testutil.ToFloat64(temperature))
	assert.Equal(t, 4.0, testutil.ToFloat64(poolThreads.WithLabelValues("inference")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(rejections.WithLabelValues("cooldown"))
	IncRejection("cooldown")
	assert.Equal(t, before+1, testutil.ToFloat64(rejections.WithLabelValues("cooldown")))

	beforeEmpty := testutil.ToFloat64(rejections.WithLabelValues("unspecified"))
	IncRejection("")
	assert.Equal(t, beforeEmpty+1, testutil.ToFloat64(rejections.WithLabelValues("unspecified")))

	beforeTokens := testutil.ToFloat64(tokensGenerated)
	AddTokens(7)
	assert.Equal(t, beforeTokens+7, testutil.ToFloat64(tokensGenerated))

	beforeDone := testutil.ToFloat64(generationsFinished.WithLabelValues("completed"))
	ObserveGeneration("completed", 250*time.Millisecond)
	assert.Equal(t, beforeDone+1, testutil.ToFloat64(generationsFinished.WithLabelValues("completed")))
}

func TestExposedOnDefaultRegistry(t *testing.T) {
	IncBoostsGranted()

	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, bytes.Contains(rr.Body.Bytes(), []byte("inferctl_scheduler_boosts_granted_total")))
}
