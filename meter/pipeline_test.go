package meter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/powermeter/hardware/serial"
	"github.com/temoto/powermeter/log2"
)

type testMessage struct{ topic, payload string }

type testSink struct {
	sync.Mutex
	msgs  []testMessage
	ch    chan testMessage
	fail  map[string]error
	panic bool
}

func newTestSink() *testSink { return &testSink{ch: make(chan testMessage, 256)} }

func (s *testSink) Publish(topic, payload string) error {
	s.Lock()
	defer s.Unlock()
	if s.panic {
		s.panic = false
		panic("sink exploded")
	}
	if err := s.fail[topic]; err != nil {
		return err
	}
	m := testMessage{topic, payload}
	s.msgs = append(s.msgs, m)
	s.ch <- m
	return nil
}

func (s *testSink) get(topic string) (string, bool) {
	s.Lock()
	defer s.Unlock()
	for _, m := range s.msgs {
		if m.topic == topic {
			return m.payload, true
		}
	}
	return "", false
}

func (s *testSink) topics() []string {
	s.Lock()
	defer s.Unlock()
	ts := make([]string, len(s.msgs))
	for i, m := range s.msgs {
		ts[i] = m.topic
	}
	return ts
}

func newTestPipeline(t testing.TB, port serial.Porter, sink Sink) *Pipeline {
	log := log2.NewTest(t, log2.LDebug)
	p := NewPipeline(
		NewReader(port, ReaderConfig{}, log, nil),
		NewValidator(ValidateStrict, log, nil),
		NewExtractor(log, nil),
		sink, log, nil)
	p.SetRetry(time.Millisecond, 5*time.Millisecond)
	return p
}

func TestStepEndToEnd(t *testing.T) {
	t.Parallel()

	sink := newTestSink()
	port := serial.NewNullPortBytes(BuildFrame(SampleBody(false)))
	p := newTestPipeline(t, port, sink)
	n, err := p.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, shortNames, sink.topics())
	v, ok := sink.get("act_pwr_in")
	assert.True(t, ok)
	assert.Equal(t, "4500", v)
	v, _ = sink.get("cur_l1")
	assert.Equal(t, "100.00", v)
	v, _ = sink.get("meter_id")
	assert.Equal(t, "7359992890941742", v)
}

func TestStepMissingTag(t *testing.T) {
	t.Parallel()

	sink := newTestSink()
	port := serial.NewNullPortBytes(BuildFrame(SampleBody(true, "vol_l3")))
	p := newTestPipeline(t, port, sink)
	n, err := p.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	_, ok := sink.get("vol_l3")
	assert.False(t, ok)
	v, _ := sink.get("sum_kwh_in")
	assert.Equal(t, "1000.0", v)
}

func TestStepBadChecksum(t *testing.T) {
	t.Parallel()

	frame := BuildFrame(SampleBody(false))
	frame[20] ^= 0x04
	if frame[20] == FlagByte {
		frame[20] ^= 0x01
	}
	sink := newTestSink()
	p := newTestPipeline(t, serial.NewNullPortBytes(frame), sink)
	n, err := p.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, sink.topics())
}

func TestStepPublishError(t *testing.T) {
	t.Parallel()

	sink := newTestSink()
	sink.fail = map[string]error{"cur_l2": fmt.Errorf("not connected")}
	p := newTestPipeline(t, serial.NewNullPortBytes(BuildFrame(SampleBody(false))), sink)
	n, err := p.Step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	_, ok := sink.get("cur_l3")
	assert.True(t, ok)
}

func TestPublishWriterSink(t *testing.T) {
	t.Parallel()

	var buf = new(syncBuffer)
	n := NewNormalizedFrame(Field{"act_pwr_in", IntValue(4500)}, Field{"cur_l1", FloatValue(1.5, 2)})
	count, err := Publish(WriterSink(buf), n, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, "act_pwr_in 4500\ncur_l1 1.50\n", buf.String())
}

func TestRun(t *testing.T) {
	t.Parallel()

	sink := newTestSink()
	sink.panic = true
	port := serial.NewChanPort(time.Second)
	// first frame: sink panics, second: ok
	p := newTestPipeline(t, port, sink)
	var reopened int32
	p.OnError = func(err error) error {
		atomic.AddInt32(&reopened, 1)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	frame := BuildFrame(SampleBody(false))
	require.True(t, port.Feed(frame))
	require.True(t, port.Feed(frame))
	select {
	case m := <-sink.ch:
		assert.Equal(t, "meter_id", m.topic)
	case <-time.After(5 * time.Second):
		t.Fatal("no publish after recovery")
	}
	sink.Lock()
	assert.False(t, sink.panic, "panic not reached")
	sink.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&reopened), "port reopened after sink panic")
}

func TestStepReadError(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &scriptPort{}, newTestSink())
	_, err := p.Step(context.Background())
	require.Error(t, err)
	_, isRead := err.(*ReadError)
	assert.True(t, isRead, "%T", err)
	assert.Equal(t, serial.ErrClosed, errors.Cause(err))
}

func TestRunPortError(t *testing.T) {
	t.Parallel()

	frame := BuildFrame(SampleBody(false))
	port := &scriptPort{steps: []readStep{
		{err: fmt.Errorf("usb hiccup")},
		{data: frame},
	}}
	sink := newTestSink()
	p := newTestPipeline(t, port, sink)
	reopened := 0
	p.OnError = func(err error) error {
		reopened++
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := 0; i < 12; i++ {
		select {
		case <-sink.ch:
		case <-time.After(5 * time.Second):
			t.Fatal("no publish after port error")
		}
	}
	cancel()
	require.NoError(t, <-done)
	// usb hiccup, then ErrClosed repeatedly after script ends
	assert.GreaterOrEqual(t, reopened, 1)
}

type syncBuffer struct {
	sync.Mutex
	b []byte
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.Lock()
	defer s.Unlock()
	s.b = append(s.b, p...)
	return len(p), nil
}

func (s *syncBuffer) String() string {
	s.Lock()
	defer s.Unlock()
	return string(s.b)
}
