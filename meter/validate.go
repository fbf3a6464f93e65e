package meter

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/powermeter/crc"
	"github.com/temoto/powermeter/helpers"
	"github.com/temoto/powermeter/log2"
	"github.com/temoto/powermeter/metrics"
)

const (
	DefaultMinFrameLen = 200
	DefaultMaxFrameLen = 400
)

type ValidateMode uint8

const (
	ValidateStrict ValidateMode = iota
	ValidateCheap
)

func ParseValidateMode(s string) (ValidateMode, error) {
	switch strings.ToLower(s) {
	case "", "strict", "crc":
		return ValidateStrict, nil
	case "cheap", "length":
		return ValidateCheap, nil
	}
	return ValidateStrict, errors.NotValidf("validate=%s", s)
}

func (m ValidateMode) String() string {
	switch m {
	case ValidateStrict:
		return "strict"
	case ValidateCheap:
		return "cheap"
	}
	return fmt.Sprintf("ValidateMode(%d)", m)
}

// TrimmedFrame is one frame without flags, split into body and trailing FCS.
// Both are uppercase hex.
type TrimmedFrame struct {
	Body     string
	Checksum string
}

// Trim cuts the first complete flag-delimited frame out of raw bytes.
// Leading garbage and anything past the end flag are ignored.
func Trim(raw []byte) (TrimmedFrame, error) {
	start := bytes.IndexByte(raw, FlagByte)
	if start < 0 {
		return TrimmedFrame{}, errors.NotValidf("frame start flag")
	}
	// flag run "7E7E" is end of previous frame + start of this one
	for start+1 < len(raw) && raw[start+1] == FlagByte {
		start++
	}
	end := bytes.IndexByte(raw[start+1:], FlagByte)
	if end < 0 {
		return TrimmedFrame{}, errors.NotValidf("frame end flag")
	}
	inner := raw[start+1 : start+1+end]
	if len(inner) < 3 {
		return TrimmedFrame{}, errors.NotValidf("frame length=%d", len(inner))
	}
	split := len(inner) - 2
	return TrimmedFrame{
		Body:     helpers.HexUpper(inner[:split]),
		Checksum: helpers.HexUpper(inner[split:]),
	}, nil
}

// Expected FCS of Body, little-endian as on the wire.
func (tf TrimmedFrame) ComputeChecksum() (string, error) {
	b, err := hex.DecodeString(tf.Body)
	if err != nil {
		return "", errors.Annotate(err, "frame body")
	}
	fcs := crc.CRC16_x25_le(b)
	return helpers.HexUpper(fcs[:]), nil
}

func (tf TrimmedFrame) Verify() bool {
	if tf.Body == "" || len(tf.Body)%2 != 0 || len(tf.Checksum) != 4 {
		return false
	}
	expect, err := tf.ComputeChecksum()
	return err == nil && expect == strings.ToUpper(tf.Checksum)
}

type Validator struct {
	Mode   ValidateMode
	MinLen int
	MaxLen int

	log     *log2.Log
	metrics *metrics.Meter
}

func NewValidator(mode ValidateMode, log *log2.Log, m *metrics.Meter) *Validator {
	return &Validator{
		Mode:    mode,
		MinLen:  DefaultMinFrameLen,
		MaxLen:  DefaultMaxFrameLen,
		log:     log,
		metrics: m,
	}
}

func (v *Validator) Validate(frame []byte) bool {
	_, ok := v.Accept(frame)
	return ok
}

// Accept validates frame and returns hex body for field extraction.
func (v *Validator) Accept(frame []byte) (string, bool) {
	var body string
	var ok bool
	switch v.Mode {
	case ValidateCheap:
		body, ok = v.cheap(frame)
	default:
		body, ok = v.strict(frame)
	}
	if ok {
		v.log.Infof("received %d bytes of true data", len(frame))
	} else {
		v.log.Warnf("received %d bytes of false data", len(frame))
	}
	v.metrics.FrameResult(ok)
	return body, ok
}

// Length band and end flag only, bit errors pass through.
func (v *Validator) cheap(frame []byte) (string, bool) {
	if len(frame) == 0 || len(frame) < v.MinLen || len(frame) > v.MaxLen || frame[len(frame)-1] != FlagByte {
		return "", false
	}
	if tf, err := Trim(frame); err == nil {
		return tf.Body, true
	}
	return helpers.HexUpper(frame), true
}

func (v *Validator) strict(frame []byte) (string, bool) {
	tf, err := Trim(frame)
	if err != nil {
		v.log.Debugf("trim: %v", err)
		return "", false
	}
	if !tf.Verify() {
		expect, _ := tf.ComputeChecksum()
		v.log.Debugf("checksum frame=%s computed=%s", tf.Checksum, expect)
		return "", false
	}
	return tf.Body, true
}
