package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeterNil(t *testing.T) {
	t.Parallel()

	var m *Meter
	m.FrameRead(10)
	m.Timeout()
	m.FrameResult(true)
	m.FieldMissing("vol_l3")
	m.FieldError(1)
	m.Publish("act_pwr_in", 1, true, nil)
}

func TestMeter(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMeter(reg)
	m.FrameRead(120)
	m.FrameRead(30)
	m.FrameResult(true)
	m.FrameResult(false)
	m.FrameResult(false)
	m.FieldMissing("vol_l3")
	m.Publish("act_pwr_in", 4500, true, nil)
	m.Publish("meter_id", 0, false, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesRead))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.BytesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FrameResults.WithLabelValues("valid")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FrameResults.WithLabelValues("invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FieldsMissing.WithLabelValues("vol_l3")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Published))
	assert.Equal(t, 4500.0, testutil.ToFloat64(m.Values.WithLabelValues("act_pwr_in")))
}

func TestHandler(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := NewMeter(reg)
	m.Timeout()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "powermeter_read_timeouts_total 1")
}
