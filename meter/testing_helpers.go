package meter

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/temoto/powermeter/crc"
	"github.com/temoto/powermeter/helpers"
)

// Sample raw values, hex without DLMS type prefix.
var SampleValues = []RawField{
	{"meter_id", hex.EncodeToString([]byte("7359992890941742"))},
	{"meter_type", hex.EncodeToString([]byte(fmt.Sprintf("%-18s", "MA304H3E")))},
	{"act_pwr_in", "00001194"},
	{"act_pwr_out", "00000000"},
	{"react_pwr_in", "000001F4"},
	{"react_pwr_out", "00000000"},
	{"cur_l1", "00002710"},
	{"cur_l2", "000003E8"},
	{"cur_l3", "00000064"},
	{"vol_l1", "E6"},
	{"vol_l2", "E5"},
	{"vol_l3", "E7"},
	{"sum_kwh_in", "00000064"},
	{"sum_kwh_out", "0000000A"},
}

var sampleHeader = helpers.MustHex("E6E7000F40000000")

// BuildFrame wraps body with flags and FCS.
func BuildFrame(body []byte) []byte {
	fcs := crc.CRC16_x25_le(body)
	frame := make([]byte, 0, len(body)+4)
	frame = append(frame, FlagByte)
	frame = append(frame, body...)
	frame = append(frame, fcs[0], fcs[1], FlagByte)
	return frame
}

// SampleBody builds frame body with SampleValues for every field in Fields,
// except omitted. Extended body is padded past DefaultExtendedThreshold.
// Last byte is chosen so FCS never contains flag byte.
func SampleBody(extended bool, omit ...string) []byte {
	buf := bytes.NewBuffer(nil)
	buf.Write(sampleHeader)
	for _, fs := range Fields {
		if fs.Extended && !extended {
			continue
		}
		if containsString(omit, fs.Name) {
			continue
		}
		var value string
		for _, v := range SampleValues {
			if v.Name == fs.Name {
				value = v.Hex
			}
		}
		buf.Write(helpers.MustHex(fs.Tag))
		buf.Write(sampleFiller(fs))
		buf.Write(helpers.MustHex(value))
	}
	if extended {
		for buf.Len()*2 <= DefaultExtendedThreshold {
			buf.WriteByte(0)
		}
	}
	body := append(buf.Bytes(), 0)
	for {
		fcs := crc.CRC16_x25_le(body)
		if fcs[0] != FlagByte && fcs[1] != FlagByte {
			return body
		}
		body[len(body)-1]++
		if body[len(body)-1] == FlagByte {
			body[len(body)-1]++
		}
	}
}

// DLMS type (and length) bytes between tag and value.
func sampleFiller(fs FieldSpec) []byte {
	switch {
	case fs.Offset == 2:
		return []byte{0x06} // double-long-unsigned
	case fs.Offset == 4 && fs.Width > maxNumericHex:
		return []byte{0x09, byte(fs.Width / 2)} // octet-string
	case fs.Offset == 4:
		return []byte{0x12, 0x00} // long-unsigned
	}
	return make([]byte, fs.Offset/2)
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
