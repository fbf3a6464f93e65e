// Package serial is byte-oriented meter line transport.
// Read returns (0, ErrTimeout) when nothing arrived within read timeout,
// so callers decide whether silence is fatal.
package serial

import (
	"time"

	"github.com/juju/errors"
)

const (
	DefaultDevice      = "/dev/ttyUSB0"
	DefaultBaud        = 2400
	DefaultReadTimeout = 10 * time.Second
)

type ErrTimeoutT string

func (e ErrTimeoutT) Error() string { return string(e) }
func (ErrTimeoutT) Timeout() bool   { return true }

var ErrTimeout error = ErrTimeoutT("serial read timeout")

var ErrClosed = errors.New("serial port closed")

// Line settings are fixed to 8N1, meters don't use anything else.
type Options struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

func (o *Options) SetDefaults() {
	if o.Device == "" {
		o.Device = DefaultDevice
	}
	if o.Baud == 0 {
		o.Baud = DefaultBaud
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
}

type Porter interface {
	Open(opt Options) error
	// Blocks up to ReadTimeout. Safe to Close() concurrently, then returns ErrClosed.
	Read(p []byte) (int, error)
	Close() error
}

func NewPort(driver string) (Porter, error) {
	switch driver {
	case "", "file":
		return NewFileUart(), nil
	}
	return nil, errors.NotSupportedf("serial driver=%s", driver)
}
