// Package meter turns HAN port byte stream into published field values.
//
// Reader delimits frames on 0x7E flags, Validator checks CRC-16/X-25
// frame check sequence, Extractor finds OBIS tags in body hex and slices
// fixed width values after them, Normalize scales raw values and
// Publish hands each field to a Sink (MQTT client in production).
// Pipeline runs all of the above for one meter, one frame at a time.
package meter
