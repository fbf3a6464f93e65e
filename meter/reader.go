package meter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/powermeter/hardware/serial"
	"github.com/temoto/powermeter/helpers"
	"github.com/temoto/powermeter/log2"
	"github.com/temoto/powermeter/metrics"
)

// HDLC flag, both start and end of frame.
const FlagByte byte = 0x7e

const (
	// Frame end flag is accepted only after this many bytes,
	// otherwise the start flag would terminate the frame.
	MinLead = 2
	// Scan accumulator is dropped beyond this, no frame is that long.
	DefaultMaxScan   = 2048
	DefaultChunkSize = 512
)

type ReadMode uint8

const (
	ReadModeScan ReadMode = iota
	ReadModeChunk
)

func ParseReadMode(s string) (ReadMode, error) {
	switch strings.ToLower(s) {
	case "", "scan":
		return ReadModeScan, nil
	case "chunk":
		return ReadModeChunk, nil
	}
	return ReadModeScan, errors.NotValidf("read_mode=%s", s)
}

func (m ReadMode) String() string {
	switch m {
	case ReadModeScan:
		return "scan"
	case ReadModeChunk:
		return "chunk"
	}
	return fmt.Sprintf("ReadMode(%d)", m)
}

type ReaderConfig struct {
	Mode      ReadMode
	ChunkSize int
	MaxScan   int
	// Chunk collection stops after this long even if bytes keep trickling.
	ChunkWait time.Duration
}

// Reader only finds frame boundaries, content is Validator's job.
type Reader struct {
	port    serial.Porter
	conf    ReaderConfig
	log     *log2.Log
	metrics *metrics.Meter
	acc     []byte
	buf     []byte
}

func NewReader(port serial.Porter, conf ReaderConfig, log *log2.Log, m *metrics.Meter) *Reader {
	if conf.ChunkSize <= 0 {
		conf.ChunkSize = DefaultChunkSize
	}
	if conf.MaxScan <= 0 {
		conf.MaxScan = DefaultMaxScan
	}
	if conf.ChunkWait <= 0 {
		conf.ChunkWait = serial.DefaultReadTimeout
	}
	return &Reader{
		port:    port,
		conf:    conf,
		log:     log,
		metrics: m,
	}
}

// ReadFrame blocks until a frame (scan) or a chunk of bytes (chunk) arrived.
// Line silence is logged and waited out. Returns error only when
// ctx is done or the port failed.
func (r *Reader) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var frame []byte
		var err error
		switch r.conf.Mode {
		case ReadModeChunk:
			frame, err = r.readChunk()
		default:
			frame, err = r.scan()
		}
		switch {
		case helpers.IsTimeout(err):
			r.log.Errorf("no data, check wiring")
			r.metrics.Timeout()
			continue
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, errors.Annotate(err, "meter read")
		}
		r.metrics.FrameRead(len(frame))
		return frame, nil
	}
}

// Drop partially accumulated frame, e.g. after port reopen.
func (r *Reader) Reset() { r.acc = nil }

func (r *Reader) scan() ([]byte, error) {
	var b [1]byte
	for {
		n, err := r.port.Read(b[:])
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, serial.ErrTimeout
		}
		r.acc = append(r.acc, b[0])
		if b[0] == FlagByte && len(r.acc) > MinLead {
			frame := r.acc
			r.acc = nil
			return frame, nil
		}
		if len(r.acc) > r.conf.MaxScan {
			r.log.Warnf("no frame end in %d bytes, dropping", len(r.acc))
			r.acc = nil
		}
	}
}

// Up to ChunkSize bytes, stops early when the line goes quiet or ChunkWait passed.
func (r *Reader) readChunk() ([]byte, error) {
	if r.buf == nil {
		r.buf = make([]byte, r.conf.ChunkSize)
	}
	deadline := time.Now().Add(r.conf.ChunkWait)
	total := 0
	for total < len(r.buf) && (total == 0 || time.Now().Before(deadline)) {
		n, err := r.port.Read(r.buf[total:])
		if helpers.IsTimeout(err) || (err == nil && n == 0) {
			break
		}
		if err != nil {
			return nil, err
		}
		total += n
	}
	if total == 0 {
		return nil, serial.ErrTimeout
	}
	chunk := make([]byte, total)
	copy(chunk, r.buf[:total])
	return chunk, nil
}
