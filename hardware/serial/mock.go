package serial

// Public API to easy create meter line stubs to test your code.
import (
	"bytes"
	"io"
	"sync"
	"time"
)

// NullPort replays a byte source. Exhausted source reads as timeout,
// like a meter that stopped talking.
type NullPort struct {
	mu     sync.Mutex
	src    io.Reader
	closed bool
	Reads  int
}

func NewNullPort(r io.Reader) *NullPort { return &NullPort{src: r} }

func NewNullPortBytes(b []byte) *NullPort { return NewNullPort(bytes.NewReader(b)) }

func (self *NullPort) Open(opt Options) error { return nil }

func (self *NullPort) Read(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.Reads++
	if self.closed {
		return 0, ErrClosed
	}
	n, err := self.src.Read(p)
	if err == io.EOF {
		if n == 0 {
			return 0, ErrTimeout
		}
		err = nil
	}
	return n, err
}

func (self *NullPort) Close() error {
	self.mu.Lock()
	self.closed = true
	self.mu.Unlock()
	return nil
}

func (self *NullPort) IsClosed() bool {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.closed
}

// ChanPort delivers chunks sent by test, blocks between them like real line.
type ChanPort struct {
	pending []byte
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
}

func NewChanPort(timeout time.Duration) *ChanPort {
	return &ChanPort{
		ch:      make(chan []byte),
		done:    make(chan struct{}),
		timeout: timeout,
	}
}

func (self *ChanPort) Open(opt Options) error { return nil }

// Feed blocks until Read takes b or port is closed.
func (self *ChanPort) Feed(b []byte) bool {
	select {
	case self.ch <- b:
		return true
	case <-self.done:
		return false
	}
}

// Not safe for concurrent Read.
func (self *ChanPort) Read(p []byte) (int, error) {
	if len(self.pending) != 0 {
		n := copy(p, self.pending)
		self.pending = self.pending[n:]
		return n, nil
	}
	select {
	case b := <-self.ch:
		n := copy(p, b)
		self.pending = b[n:]
		return n, nil
	case <-self.done:
		return 0, ErrClosed
	case <-time.After(self.timeout):
		return 0, ErrTimeout
	}
}

func (self *ChanPort) Close() error {
	self.once.Do(func() { close(self.done) })
	return nil
}

func (self *ChanPort) Done() <-chan struct{} { return self.done }
