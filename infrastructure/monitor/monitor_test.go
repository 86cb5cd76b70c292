package monitor

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRequest(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordRequest("prodA", "CREATE_ORDER", "rest", nil)
	m.RecordRequest("prodA", "CREATE_ORDER", "rest", errors.New("timeout"))
	m.RecordRequest("prodB", "CANCEL_OPEN_ORDERS", "websocket", nil)
	m.RecordRateLimited("prodA")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("prodA", "CREATE_ORDER", "rest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestErrs.WithLabelValues("prodA", "CREATE_ORDER", "rest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("prodB", "CANCEL_OPEN_ORDERS", "websocket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited.WithLabelValues("prodA")))
}

func TestOrderAndFillMetrics(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordOrderPlaced("prodA")
	m.RecordOrderPlaced("prodA")
	m.RecordOrderCanceled("prodB")
	m.RecordFill("prodA", "BUY", 0.5, true)
	m.RecordFill("prodA", "BUY", 0.25, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.orderEvents.WithLabelValues("prodA", "placed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.orderEvents.WithLabelValues("prodB", "canceled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fills.WithLabelValues("prodA", "BUY", "maker")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fills.WithLabelValues("prodA", "BUY", "taker")))
	assert.InDelta(t, 0.75, testutil.ToFloat64(m.fillVolume.WithLabelValues("prodA", "BUY")), 1e-12)
}

func TestPricingAndRiskGauges(t *testing.T) {
	m := New(DefaultConfig())

	m.UpdatePricing(12.5, 4, 2.5, -3)
	m.RecordCrossing("up")
	m.UpdateLockState("prodB", 3)
	m.UpdateMismatch("prodA", true)
	m.UpdateRisk(150, true)
	m.UpdateWalls(true, false)

	assert.Equal(t, 12.5, testutil.ToFloat64(m.theoPrice))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.skew.WithLabelValues("upper")))
	assert.Equal(t, 2.5, testutil.ToFloat64(m.skew.WithLabelValues("lower")))
	assert.Equal(t, -3.0, testutil.ToFloat64(m.targetPos))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.crossings.WithLabelValues("up")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.lockState.WithLabelValues("prodB")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mismatch.WithLabelValues("prodA")))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.drawdown))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stopLoss))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.walls.WithLabelValues("lower")))

	m.UpdateMismatch("prodA", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.mismatch.WithLabelValues("prodA")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New(DefaultConfig())
	m.UpdateBidAsk("prodA", 100, 101)
	m.UpdatePosition("prodB", -2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `mm_cross_best_price{leg="prodA",side="ask"} 101`))
	assert.True(t, strings.Contains(body, `mm_cross_position{leg="prodB"} -2`))
}
