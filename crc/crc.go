// Package crc implements CRC-16/X-25 (HDLC frame check sequence) used by
// HAN port meters: poly 0x1021 reflected, init 0xffff, xorout 0xffff.
package crc

const CRC16_POLY_X25 uint16 = 0x8408 // 0x1021 bit-reversed

const crc16X25Init uint16 = 0xffff

var tableX25 = makeTable(CRC16_POLY_X25)

func makeTable(poly uint16) *[256]uint16 {
	t := new([256]uint16)
	for i := 0; i < 256; i++ {
		t[i] = crc16_reference(0, byte(i), poly)
	}
	return t
}

func crc16_reference(crc uint16, data byte, poly uint16) uint16 {
	crc ^= uint16(data)
	for i := 0; i < 8; i++ {
		if (crc & 0x0001) != 0 {
			crc = (crc >> 1) ^ poly
		} else {
			crc >>= 1
		}
	}
	return crc
}

// Bitwise, slow. Kept to verify the table.
func CRC16_x25_reference(data []byte) uint16 {
	crc := crc16X25Init
	for _, b := range data {
		crc = crc16_reference(crc, b, CRC16_POLY_X25)
	}
	return crc ^ 0xffff
}

// Continue running (not finalized) crc with one more byte.
func CRC16_x25_next(crc uint16, data byte) uint16 {
	return (crc >> 8) ^ tableX25[byte(crc)^data]
}

func CRC16_x25(data []byte) uint16 {
	crc := crc16X25Init
	for _, b := range data {
		crc = CRC16_x25_next(crc, b)
	}
	return crc ^ 0xffff
}

// Frame check sequence as transmitted on the wire: low byte first.
func CRC16_x25_le(data []byte) [2]byte {
	c := CRC16_x25(data)
	return [2]byte{byte(c), byte(c >> 8)}
}
