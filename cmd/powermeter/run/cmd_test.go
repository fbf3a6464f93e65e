package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/powermeter/hardware/serial"
	"github.com/temoto/powermeter/internal/state"
	"github.com/temoto/powermeter/meter"
	"github.com/temoto/powermeter/tele"
)

func TestMainInterrupt(t *testing.T) {
	ctx, g := state.NewTestContext(t, "")
	port := serial.NewChanPort(time.Second)
	g.NewPort = func(string) (serial.Porter, error) { return port, nil }
	broker := tele.NewMqttMock()
	g.NewMqtt = broker.MockNew

	done := make(chan error, 1)
	go func() { done <- Main(ctx, g.Config, nil) }()

	require.True(t, port.Feed(meter.BuildFrame(meter.SampleBody(false))))
	select {
	case msg := <-broker.Pub:
		assert.Equal(t, "meter_id", msg.Topic)
	case <-time.After(5 * time.Second):
		t.Fatal("no publish")
	}

	g.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Main did not return after Stop")
	}
	assert.True(t, broker.Disconnected())
}
