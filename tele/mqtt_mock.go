package tele

import (
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MockMsg struct {
	Topic    string
	Payload  string
	Qos      byte
	Retained bool
}

// MqttMock is in-memory mqtt.Client, records publishes into Pub.
type MqttMock struct {
	sync.Mutex
	Opt          *mqtt.ClientOptions
	Pub          chan MockMsg
	PublishErr   error
	connected    bool
	disconnected bool
}

func NewMqttMock() *MqttMock {
	return &MqttMock{Pub: make(chan MockMsg, 256)}
}

// ClientFactory for NewMqttPublisher.
func (self *MqttMock) MockNew(opt *mqtt.ClientOptions) mqtt.Client {
	self.Opt = opt
	return self
}

func (self *MqttMock) IsConnected() bool {
	self.Lock()
	defer self.Unlock()
	return self.connected
}
func (self *MqttMock) IsConnectionOpen() bool { return self.IsConnected() }

func (self *MqttMock) Connect() mqtt.Token {
	self.Lock()
	self.connected = true
	self.Unlock()
	if self.Opt != nil && self.Opt.OnConnect != nil {
		self.Opt.OnConnect(self)
	}
	return newMockToken(nil)
}

func (self *MqttMock) Disconnect(quiesce uint) {
	self.Lock()
	defer self.Unlock()
	self.connected = false
	self.disconnected = true
}

func (self *MqttMock) Disconnected() bool {
	self.Lock()
	defer self.Unlock()
	return self.disconnected
}

func (self *MqttMock) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	self.Lock()
	err := self.PublishErr
	self.Unlock()
	if err != nil {
		return newMockToken(err)
	}
	var s string
	switch p := payload.(type) {
	case string:
		s = p
	case []byte:
		s = string(p)
	default:
		panic("mqtt mock: unsupported payload type")
	}
	self.Pub <- MockMsg{Topic: topic, Payload: s, Qos: qos, Retained: retained}
	return newMockToken(nil)
}

func (self *MqttMock) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) Unsubscribe(...string) mqtt.Token          { panic("not implemented") }
func (self *MqttMock) AddRoute(string, mqtt.MessageHandler)      { panic("not implemented") }
func (self *MqttMock) OptionsReader() mqtt.ClientOptionsReader { panic("not implemented") }

type mockToken struct {
	err  error
	done chan struct{}
}

func newMockToken(err error) mockToken {
	t := mockToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t mockToken) Wait() bool                     { return true }
func (t mockToken) WaitTimeout(time.Duration) bool { return true }
func (t mockToken) Done() <-chan struct{}          { return t.done }
func (t mockToken) Error() error                   { return t.err }
