package meter

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/powermeter/helpers"
)

// Raw values longer than this are ASCII text.
const maxNumericHex = 8

type Kind uint8

const (
	KindText Kind = iota + 1
	KindInt
	KindFloat
)

type Value struct {
	Kind  Kind
	Text  string
	Int   uint64
	Float float64
	Prec  int // decimals in String()
}

func TextValue(s string) Value             { return Value{Kind: KindText, Text: s} }
func IntValue(u uint64) Value              { return Value{Kind: KindInt, Int: u} }
func FloatValue(f float64, prec int) Value { return Value{Kind: KindFloat, Float: f, Prec: prec} }

// String is the MQTT payload.
func (v Value) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindInt:
		return strconv.FormatUint(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'f', v.Prec, 64)
	}
	return ""
}

// Numeric value for metrics, ok=false for text.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	}
	return 0, false
}

func isCurrent(name string) bool   { return strings.HasPrefix(name, "cur_l") }
func isEnergySum(name string) bool { return strings.HasPrefix(name, "sum_") }

// NormalizeField applies per-field scaling:
// text above 4 bytes, currents centiamps->A, energy totals 10Wh->Wh, others as is.
func NormalizeField(name, raw string) (Value, error) {
	if len(raw) > maxNumericHex {
		b, err := hex.DecodeString(raw)
		if err != nil {
			return Value{}, errors.NotValidf("field=%s text hex=%q", name, raw)
		}
		return TextValue(string(b)), nil
	}
	u, err := strconv.ParseUint(raw, 16, 32)
	if err != nil {
		return Value{}, errors.NotValidf("field=%s hex=%q", name, raw)
	}
	switch {
	case isCurrent(name):
		return FloatValue(float64(u)/100, 2), nil
	case isEnergySum(name):
		return FloatValue(float64(u)*10, 1), nil
	}
	return IntValue(u), nil
}

type Field struct {
	Name  string
	Value Value
}

type NormalizedFrame struct {
	fields []Field
}

func NewNormalizedFrame(fields ...Field) NormalizedFrame {
	return NormalizedFrame{fields: append([]Field(nil), fields...)}
}

func (n NormalizedFrame) Len() int { return len(n.fields) }

func (n NormalizedFrame) Get(name string) (Value, bool) {
	for _, f := range n.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

func (n NormalizedFrame) Fields() []Field { return append([]Field(nil), n.fields...) }

// Normalize converts every field it can. Bad fields are left out,
// their errors come back folded while the rest of the frame is usable.
func Normalize(d DecodedFrame) (NormalizedFrame, error) {
	n := NormalizedFrame{fields: make([]Field, 0, d.Len())}
	var errs []error
	for _, raw := range d.fields {
		v, err := NormalizeField(raw.Name, raw.Hex)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n.fields = append(n.fields, Field{Name: raw.Name, Value: v})
	}
	return n, helpers.FoldErrors(errs)
}
