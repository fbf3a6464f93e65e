package tele

import "time"

const (
	DefaultBroker       = "tcp://192.168.12.114:32782"
	DefaultClientID     = "powermeter"
	DefaultConnectRetry = 30 * time.Second
	DefaultKeepalive    = 60 * time.Second
	disconnectQuiesceMs = 250
)

type Config struct {
	Broker       string
	ClientID     string
	TopicPrefix  string
	Qos          byte
	Retain       bool
	ConnectRetry time.Duration
	Keepalive    time.Duration
	LogDebug     bool
}

func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = DefaultBroker
	}
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.ConnectRetry == 0 {
		c.ConnectRetry = DefaultConnectRetry
	}
	if c.Keepalive == 0 {
		c.Keepalive = DefaultKeepalive
	}
}
