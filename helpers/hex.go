package helpers

import (
	"encoding/hex"
	"strings"
)

func MustHex(s string) []byte {
	b, err := hex.DecodeString(strings.Replace(s, " ", "", -1))
	if err != nil {
		panic(err)
	}
	return b
}

// HexUpper is the meter dump notation: "7EA0".
func HexUpper(b []byte) string { return strings.ToUpper(hex.EncodeToString(b)) }
