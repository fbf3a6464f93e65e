package tele

import (
	"net/url"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/powermeter/log2"
)

type ClientFactory func(*mqtt.ClientOptions) mqtt.Client

// MqttPublisher sends one message per field to topic prefix+name.
// - NewMqttPublisher fails only with invalid config, broker may be down
// - connect retries forever every ConnectRetry, in paho background goroutine
// - Publish does not wait for delivery
type MqttPublisher struct {
	log  *log2.Log
	conf Config
	m    mqtt.Client
	mopt *mqtt.ClientOptions
}

func NewMqttPublisher(log *log2.Log, conf Config, newClient ClientFactory) (*MqttPublisher, error) {
	conf.SetDefaults()
	if _, err := url.ParseRequestURI(conf.Broker); err != nil {
		return nil, errors.Annotatef(err, "config error mqtt broker=%s", conf.Broker)
	}
	if conf.Qos > 2 {
		return nil, errors.NotValidf("mqtt qos=%d", conf.Qos)
	}
	if newClient == nil {
		newClient = mqtt.NewClient
	}

	// FIXME paho loggers are package globals, last publisher wins
	mqtt.ERROR = log
	mqtt.CRITICAL = log
	mqtt.WARN = log
	if conf.LogDebug {
		mqtt.DEBUG = log
	}

	self := &MqttPublisher{log: log, conf: conf}
	self.mopt = mqtt.NewClientOptions().
		AddBroker(conf.Broker).
		SetClientID(conf.ClientID).
		SetCleanSession(true).
		SetKeepAlive(conf.Keepalive).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(conf.ConnectRetry).
		SetConnectRetry(true).
		SetConnectRetryInterval(conf.ConnectRetry).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	self.m = newClient(self.mopt)
	return self, nil
}

// Connect starts background connection, never blocks.
func (self *MqttPublisher) Connect() {
	self.log.Infof("mqtt connecting broker=%s client=%s", self.conf.Broker, self.conf.ClientID)
	tok := self.m.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			self.log.Errorf("mqtt connect: %v", err)
		}
	default:
	}
}

func (self *MqttPublisher) Topic(name string) string { return self.conf.TopicPrefix + name }

func (self *MqttPublisher) Publish(name string, payload string) error {
	topic := self.Topic(name)
	tok := self.m.Publish(topic, self.conf.Qos, self.conf.Retain, payload)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return errors.Annotatef(err, "mqtt publish topic=%s", topic)
		}
	default:
	}
	self.log.Debugf("mqtt publish topic=%s payload=%s", topic, payload)
	return nil
}

func (self *MqttPublisher) Close() {
	self.m.Disconnect(disconnectQuiesceMs)
	self.log.Infof("mqtt disconnected")
}

func (self *MqttPublisher) onConnectHandler(c mqtt.Client) {
	self.log.Infof("mqtt connected broker=%s", self.conf.Broker)
}

func (self *MqttPublisher) connectLostHandler(c mqtt.Client, err error) {
	self.log.Errorf("mqtt connection lost: %v", err)
}
