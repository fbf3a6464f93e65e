package tele

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/powermeter/log2"
)

func newTestPublisher(t testing.TB, conf Config) (*MqttPublisher, *MqttMock) {
	broker := NewMqttMock()
	p, err := NewMqttPublisher(log2.NewTest(t, log2.LDebug), conf, broker.MockNew)
	require.NoError(t, err)
	return p, broker
}

func TestPublish(t *testing.T) {
	// FIXME ugly `mqtt.CRITICAL/ERROR/WARN/DEBUG` global variables
	// t.Parallel()

	p, broker := newTestPublisher(t, Config{Broker: "tcp://localhost:1883", TopicPrefix: "home/meter/", Qos: 1})
	p.Connect()
	assert.True(t, broker.IsConnected())
	require.NoError(t, p.Publish("act_pwr_in", "4500"))
	msg := <-broker.Pub
	assert.Equal(t, MockMsg{Topic: "home/meter/act_pwr_in", Payload: "4500", Qos: 1}, msg)

	assert.Equal(t, []string{"tcp://localhost:1883"}, []string{broker.Opt.Servers[0].String()})
	assert.Equal(t, DefaultClientID, broker.Opt.ClientID)
	assert.True(t, broker.Opt.ConnectRetry)
	assert.Equal(t, DefaultConnectRetry, broker.Opt.ConnectRetryInterval)

	p.Close()
	assert.True(t, broker.Disconnected())
}

func TestPublishError(t *testing.T) {
	p, broker := newTestPublisher(t, Config{})
	broker.PublishErr = fmt.Errorf("not connected")
	err := p.Publish("cur_l1", "1.00")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic=cur_l1")
	select {
	case msg := <-broker.Pub:
		t.Errorf("unexpected publish %v", msg)
	case <-time.After(10 * time.Millisecond):
	}
}

func TestConfig(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, DefaultBroker, c.Broker)
	assert.Equal(t, 30*time.Second, c.ConnectRetry)

	_, err := NewMqttPublisher(nil, Config{Broker: "::bad"}, NewMqttMock().MockNew)
	assert.Error(t, err)
	_, err = NewMqttPublisher(nil, Config{Qos: 3}, NewMqttMock().MockNew)
	assert.Error(t, err)
}
