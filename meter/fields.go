package meter

import (
	"strings"

	"github.com/temoto/powermeter/log2"
	"github.com/temoto/powermeter/metrics"
)

// Body hex length above which the meter sends the long list with energy totals.
const DefaultExtendedThreshold = 500

// FieldSpec locates one value in frame body hex.
// Tag is OBIS code, 6 bytes. Value starts Offset hex chars after tag end
// (skipping DLMS type and length bytes) and is Width hex chars long.
type FieldSpec struct {
	Name     string
	Tag      string
	Offset   int
	Width    int
	Extended bool
}

// Order here is the order of extraction, logging and publishing.
var Fields = []FieldSpec{
	{Name: "meter_id", Tag: "0101000005FF", Offset: 4, Width: 32},
	{Name: "meter_type", Tag: "0101600101FF", Offset: 4, Width: 36},
	{Name: "act_pwr_in", Tag: "0101010700FF", Offset: 2, Width: 8},
	{Name: "act_pwr_out", Tag: "0101020700FF", Offset: 2, Width: 8},
	{Name: "react_pwr_in", Tag: "0101030700FF", Offset: 2, Width: 8},
	{Name: "react_pwr_out", Tag: "0101040700FF", Offset: 2, Width: 8},
	{Name: "cur_l1", Tag: "01011F0700FF", Offset: 2, Width: 8},
	{Name: "cur_l2", Tag: "0101330700FF", Offset: 2, Width: 8},
	{Name: "cur_l3", Tag: "0101470700FF", Offset: 2, Width: 8},
	{Name: "vol_l1", Tag: "0101200700FF", Offset: 4, Width: 2},
	{Name: "vol_l2", Tag: "0101340700FF", Offset: 4, Width: 2},
	{Name: "vol_l3", Tag: "0101480700FF", Offset: 4, Width: 2},
	{Name: "sum_kwh_in", Tag: "0101010800FF", Offset: 2, Width: 8, Extended: true},
	{Name: "sum_kwh_out", Tag: "0101020800FF", Offset: 2, Width: 8, Extended: true},
}

// Locate returns the value hex, ok=false when tag is absent or
// the value would run past the body end.
// Tag must start on a byte boundary, nibble-shifted matches are skipped.
func (fs FieldSpec) Locate(body string) (string, bool) {
	i := indexAligned(body, fs.Tag)
	if i < 0 {
		return "", false
	}
	begin := i + len(fs.Tag) + fs.Offset
	end := begin + fs.Width
	if end > len(body) {
		return "", false
	}
	return body[begin:end], true
}

func indexAligned(s, sub string) int {
	from := 0
	for from <= len(s)-len(sub) {
		i := strings.Index(s[from:], sub)
		if i < 0 {
			return -1
		}
		i += from
		if i%2 == 0 {
			return i
		}
		from = i + 1
	}
	return -1
}

type RawField struct {
	Name string
	Hex  string
}

// DecodedFrame is raw value hex per field, in extraction order.
type DecodedFrame struct {
	fields []RawField
}

func NewDecodedFrame(fields ...RawField) DecodedFrame {
	return DecodedFrame{fields: append([]RawField(nil), fields...)}
}

func (d DecodedFrame) Len() int { return len(d.fields) }

func (d DecodedFrame) Get(name string) (string, bool) {
	for _, f := range d.fields {
		if f.Name == name {
			return f.Hex, true
		}
	}
	return "", false
}

func (d DecodedFrame) Names() []string {
	names := make([]string, len(d.fields))
	for i, f := range d.fields {
		names[i] = f.Name
	}
	return names
}

func (d DecodedFrame) Fields() []RawField { return append([]RawField(nil), d.fields...) }

type Extractor struct {
	Fields            []FieldSpec
	ExtendedThreshold int

	log     *log2.Log
	metrics *metrics.Meter
}

func NewExtractor(log *log2.Log, m *metrics.Meter) *Extractor {
	return &Extractor{
		Fields:            Fields,
		ExtendedThreshold: DefaultExtendedThreshold,
		log:               log,
		metrics:           m,
	}
}

// Extract never fails as a whole: absent fields are left out and reported in missing.
func (e *Extractor) Extract(body string) (d DecodedFrame, missing []string) {
	body = strings.ToUpper(body)
	extended := len(body) > e.ExtendedThreshold
	d.fields = make([]RawField, 0, len(e.Fields))
	for _, fs := range e.Fields {
		if fs.Extended && !extended {
			continue
		}
		value, ok := fs.Locate(body)
		if !ok {
			missing = append(missing, fs.Name)
			e.log.Debugf("field=%s tag=%s not found", fs.Name, fs.Tag)
			e.metrics.FieldMissing(fs.Name)
			continue
		}
		d.fields = append(d.fields, RawField{Name: fs.Name, Hex: value})
	}
	return d, missing
}

// Extract with default field table.
func Extract(body string) DecodedFrame {
	d, _ := NewExtractor(nil, nil).Extract(body)
	return d
}
