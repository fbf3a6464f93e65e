package meter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/powermeter/helpers"
	"github.com/temoto/powermeter/log2"
)

var shortNames = []string{
	"meter_id", "meter_type",
	"act_pwr_in", "act_pwr_out", "react_pwr_in", "react_pwr_out",
	"cur_l1", "cur_l2", "cur_l3",
	"vol_l1", "vol_l2", "vol_l3",
}

func TestExtract(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		extended bool
		expect   []string
	}{
		{"short", false, shortNames},
		{"long", true, append(append([]string{}, shortNames...), "sum_kwh_in", "sum_kwh_out")},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			body := helpers.HexUpper(SampleBody(c.extended))
			assert.Equal(t, c.extended, len(body) > DefaultExtendedThreshold)
			e := NewExtractor(log2.NewTest(t, log2.LDebug), nil)
			d, missing := e.Extract(body)
			assert.Empty(t, missing)
			assert.Equal(t, c.expect, d.Names())
			for _, name := range c.expect {
				var expect string
				for _, v := range SampleValues {
					if v.Name == name {
						expect = v.Hex
					}
				}
				actual, ok := d.Get(name)
				assert.True(t, ok, name)
				assert.Equal(t, strings.ToUpper(expect), actual, name)
			}
		})
	}
}

func TestExtractMissingTag(t *testing.T) {
	t.Parallel()

	body := helpers.HexUpper(SampleBody(false, "vol_l3", "meter_type"))
	d, missing := NewExtractor(log2.NewTest(t, log2.LDebug), nil).Extract(body)
	assert.Equal(t, []string{"meter_type", "vol_l3"}, missing)
	assert.Equal(t, len(shortNames)-2, d.Len())
	_, ok := d.Get("vol_l3")
	assert.False(t, ok)
	_, ok = d.Get("meter_type")
	assert.False(t, ok)
	v, ok := d.Get("vol_l2")
	assert.True(t, ok)
	assert.Equal(t, "E5", v)
}

func TestExtractLowercase(t *testing.T) {
	t.Parallel()

	body := strings.ToLower(helpers.HexUpper(SampleBody(false)))
	d := Extract(body)
	assert.Equal(t, shortNames, d.Names())
}

func TestLocate(t *testing.T) {
	t.Parallel()

	fs := FieldSpec{Name: "act_pwr_in", Tag: "0101010700FF", Offset: 2, Width: 8}
	cases := []struct {
		name   string
		body   string
		expect string
		ok     bool
	}{
		{"plain", "0000" + "0101010700FF" + "06" + "00001194" + "00", "00001194", true},
		{"at-end", "0101010700FF" + "06" + "00001194", "00001194", true},
		{"absent", "000000000000000000000000", "", false},
		{"empty", "", "", false},
		{"truncated", "00" + "0101010700FF" + "06" + "0000", "", false},
		{"tag-only", "0101010700FF", "", false},
		{"nibble-shifted", "A" + "0101010700FF" + "06" + "00001194" + "0", "", false},
		{"shifted-then-aligned",
			"A" + "0101010700FF" + "0" + "0101010700FF" + "06" + "00000005",
			"00000005", true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			actual, ok := fs.Locate(c.body)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.expect, actual)
		})
	}
}

func TestFieldsTable(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for _, fs := range Fields {
		require.Len(t, fs.Tag, 12, fs.Name)
		require.Len(t, helpers.MustHex(fs.Tag), 6, fs.Name)
		assert.False(t, seen[fs.Name], "duplicate %s", fs.Name)
		seen[fs.Name] = true
		assert.True(t, fs.Width > 0 && fs.Width%2 == 0, fs.Name)
	}
}

func TestDecodedFrameImmutable(t *testing.T) {
	t.Parallel()

	d := NewDecodedFrame(RawField{"act_pwr_in", "00001194"})
	fields := d.Fields()
	fields[0].Hex = "FFFFFFFF"
	v, _ := d.Get("act_pwr_in")
	assert.Equal(t, "00001194", v)
}
