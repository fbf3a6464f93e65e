//go:build linux

package serial

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"golang.org/x/sys/unix"
)

// Poll slice bounds how long Close() waits for pending Read.
const pollSlice = 200 * time.Millisecond

var baudRates = map[int]uint32{
	1200:   unix.B1200,
	2400:   unix.B2400,
	4800:   unix.B4800,
	9600:   unix.B9600,
	19200:  unix.B19200,
	38400:  unix.B38400,
	57600:  unix.B57600,
	115200: unix.B115200,
}

type fileUart struct {
	mu      sync.Mutex
	closing uint32
	fd      int
	opt     Options
}

func NewFileUart() *fileUart { return &fileUart{fd: -1} }

func (self *fileUart) Open(opt Options) error {
	opt.SetDefaults()
	speed, ok := baudRates[opt.Baud]
	if !ok {
		return errors.NotSupportedf("baud=%d", opt.Baud)
	}

	self.mu.Lock()
	defer self.mu.Unlock()
	if self.fd >= 0 {
		_ = unix.Close(self.fd)
		self.fd = -1
	}
	fd, err := unix.Open(opt.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0600)
	if err != nil {
		return errors.Annotatef(err, "open device=%s", opt.Device)
	}
	if err = io_reset_termios(fd, speed); err != nil {
		_ = unix.Close(fd)
		return errors.Annotatef(err, "termios device=%s", opt.Device)
	}
	self.fd = fd
	self.opt = opt
	atomic.StoreUint32(&self.closing, 0)
	return nil
}

func (self *fileUart) Read(p []byte) (int, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.fd < 0 {
		return 0, ErrClosed
	}
	tfinal := time.Now().Add(self.opt.ReadTimeout)
	for {
		if atomic.LoadUint32(&self.closing) != 0 {
			return 0, ErrClosed
		}
		wait := time.Until(tfinal)
		if wait <= 0 {
			return 0, ErrTimeout
		}
		if wait > pollSlice {
			wait = pollSlice
		}
		ready, err := io_wait_read(self.fd, wait)
		if err != nil {
			return 0, err
		}
		if !ready {
			continue
		}
		n, err := unix.Read(self.fd, p)
		switch {
		case err == unix.EAGAIN || err == unix.EINTR:
			continue
		case err != nil:
			return 0, errors.Annotate(err, "serial read")
		case n == 0:
			// readable with no data: device gone (USB adapter unplugged)
			return 0, errors.Errorf("serial device=%s hangup", self.opt.Device)
		}
		return n, nil
	}
}

func (self *fileUart) Close() error {
	atomic.StoreUint32(&self.closing, 1)
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.fd < 0 {
		return nil
	}
	err := unix.Close(self.fd)
	self.fd = -1
	return err
}

// raw 8N1, no flow control, reads never block in kernel: VMIN=0 VTIME=0
func io_reset_termios(fd int, speed uint32) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB | unix.CRTSCTS | unix.CBAUD
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	t.Ispeed = speed
	t.Ospeed = speed
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	// flush input, stale bytes would only produce a broken first frame
	return unix.IoctlSetTermios(fd, unix.TCSETSF, t)
}

func io_wait_read(fd int, wait time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(wait/time.Millisecond))
	if err == unix.EINTR {
		return false, nil
	}
	if err != nil {
		return false, errors.Annotate(err, "poll")
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		return false, errors.Errorf("poll revents=%#x", fds[0].Revents)
	}
	return true, nil
}
