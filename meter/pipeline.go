package meter

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/powermeter/helpers"
	"github.com/temoto/powermeter/log2"
	"github.com/temoto/powermeter/metrics"
)

const (
	DefaultRetryMin = 3 * time.Second
	DefaultRetryMax = 60 * time.Second
)

// Pipeline is one meter: read, validate, extract, normalize, publish.
// Strictly sequential, one frame at a time.
type Pipeline struct {
	Reader    *Reader
	Validator *Validator
	Extractor *Extractor
	Sink      Sink
	// Called after a failed read, before retry. Typically reopens serial port.
	OnError func(error) error

	log     *log2.Log
	metrics *metrics.Meter
	backoff helpers.Backoff
}

func NewPipeline(r *Reader, v *Validator, e *Extractor, sink Sink, log *log2.Log, m *metrics.Meter) *Pipeline {
	return &Pipeline{
		Reader:    r,
		Validator: v,
		Extractor: e,
		Sink:      sink,
		log:       log,
		metrics:   m,
		backoff:   helpers.Backoff{Min: DefaultRetryMin, Max: DefaultRetryMax, K: 2, Res: time.Second},
	}
}

func (p *Pipeline) SetRetry(min, max time.Duration) {
	p.backoff = helpers.Backoff{Min: min, Max: max, K: 2, Res: time.Millisecond}
}

// Step processes one frame. Invalid frame is not an error, it is dropped with published=0.
// Field level problems are logged and leave other fields intact.
func (p *Pipeline) Step(ctx context.Context) (published int, err error) {
	frame, err := p.Reader.ReadFrame(ctx)
	if err != nil {
		return 0, &ReadError{Err: err}
	}
	body, ok := p.Validator.Accept(frame)
	if !ok {
		return 0, nil
	}
	decoded, missing := p.Extractor.Extract(body)
	if len(missing) != 0 {
		p.log.Infof("fields not found: %v", missing)
	}
	normalized, err := Normalize(decoded)
	if err != nil {
		p.metrics.FieldError(decoded.Len() - normalized.Len())
		p.log.Warnf("normalize: %v", err)
	}
	published, err = Publish(p.Sink, normalized, p.log, p.metrics)
	if err != nil {
		p.log.Errorf("%v", err)
	}
	return published, nil
}

// Run loops until ctx is done. Errors never end the loop, they are
// logged and followed by a growing delay.
func (p *Pipeline) Run(ctx context.Context) error {
	for {
		_, err := p.safeStep(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			p.backoff.Reset()
			continue
		}

		re, isRead := err.(*ReadError)
		if isRead {
			err = re.Err
		}
		p.log.Error(errors.ErrorStack(err))
		delay := p.backoff.DelayAfter(false)
		p.log.Infof("retry in %s", delay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		// port is fine after sink or code failure
		if !isRead {
			continue
		}
		if p.OnError != nil {
			if err := p.OnError(err); err != nil {
				p.log.Errorf("recover: %v", errors.ErrorStack(err))
			}
		}
		p.Reader.Reset()
	}
}

// ReadError is a failure of the serial side, Step returns it for any ReadFrame error.
type ReadError struct{ Err error }

func (e *ReadError) Error() string { return e.Err.Error() }
func (e *ReadError) Cause() error  { return errors.Cause(e.Err) }

func (p *Pipeline) safeStep(ctx context.Context) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Sprintf("code error panic: %v", r))
		}
	}()
	return p.Step(ctx)
}
