//go:build linux

package serial

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// openPty returns master side and slave device path.
func openPty(t testing.TB) (*os.File, string) {
	t.Helper()
	master, err := os.OpenFile("/dev/ptmx", os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		t.Skipf("pty not available: %v", err)
	}
	t.Cleanup(func() { _ = master.Close() })
	fd := int(master.Fd())
	if err = unix.IoctlSetPointerInt(fd, unix.TIOCSPTLCK, 0); err != nil {
		t.Skipf("unlockpt: %v", err)
	}
	n, err := unix.IoctlGetInt(fd, unix.TIOCGPTN)
	if err != nil {
		t.Skipf("ptsname: %v", err)
	}
	return master, fmt.Sprintf("/dev/pts/%d", n)
}

func TestFileUartRead(t *testing.T) {
	t.Parallel()

	master, device := openPty(t)
	u := NewFileUart()
	require.NoError(t, u.Open(Options{Device: device, Baud: 2400, ReadTimeout: 2 * time.Second}))
	defer u.Close()

	_, err := master.Write([]byte{0x7e, 0xa0, 0x7e})
	require.NoError(t, err)
	got := make([]byte, 0, 3)
	buf := make([]byte, 8)
	for len(got) < 3 {
		n, err := u.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, []byte{0x7e, 0xa0, 0x7e}, got)
}

func TestFileUartTimeout(t *testing.T) {
	t.Parallel()

	_, device := openPty(t)
	u := NewFileUart()
	require.NoError(t, u.Open(Options{Device: device, Baud: 2400, ReadTimeout: 100 * time.Millisecond}))
	defer u.Close()

	tbegin := time.Now()
	n, err := u.Read(make([]byte, 1))
	assert.Equal(t, 0, n)
	assert.Equal(t, ErrTimeout, err)
	assert.Less(t, time.Since(tbegin), time.Second)
}

func TestFileUartCloseUnblocksRead(t *testing.T) {
	t.Parallel()

	_, device := openPty(t)
	u := NewFileUart()
	require.NoError(t, u.Open(Options{Device: device, Baud: 2400, ReadTimeout: 10 * time.Second}))

	done := make(chan error, 1)
	go func() {
		_, err := u.Read(make([]byte, 1))
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	tbegin := time.Now()
	require.NoError(t, u.Close())
	select {
	case err := <-done:
		assert.Equal(t, ErrClosed, err)
		assert.Less(t, time.Since(tbegin), time.Second)
	case <-time.After(3 * time.Second):
		t.Fatal("Read still blocked after Close")
	}

	_, err := u.Read(make([]byte, 1))
	assert.Equal(t, ErrClosed, err)
}
