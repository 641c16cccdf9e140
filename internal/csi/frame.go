package csi

import (
	"strconv"
	"strings"
)

// Marker is the token that opens every CSI data record emitted by the
// ESP32 csi_recv firmware.
const Marker = "CSI_DATA"

// Frame is one record's per-subcarrier values in source order.
type Frame []int64

// ParseFrame extracts the bracketed integer list from a CSI_DATA record.
//
// It reports false for anything that is not a data record: a missing
// marker, a missing bracket pair, or a list in which no token parses as
// an optionally signed decimal integer. Tokens that do not parse are
// dropped. ParseFrame never panics on malformed input.
func ParseFrame(record string) (Frame, bool) {
	record = strings.TrimSpace(record)
	if !strings.HasPrefix(record, Marker) {
		return nil, false
	}

	open := strings.IndexByte(record, '[')
	if open < 0 {
		return nil, false
	}
	end := strings.IndexByte(record[open+1:], ']')
	if end < 0 {
		return nil, false
	}
	body := record[open+1 : open+1+end]

	var frame Frame
	for _, tok := range strings.Split(body, ",") {
		v, ok := parseToken(tok)
		if !ok {
			continue
		}
		frame = append(frame, v)
	}
	if len(frame) == 0 {
		return nil, false
	}
	return frame, true
}

// ParseFrameBytes is ParseFrame for raw datagram or serial payloads.
func ParseFrameBytes(record []byte) (Frame, bool) {
	return ParseFrame(string(record))
}

// parseToken accepts [+-]?[0-9]+ that fits in an int64.
func parseToken(tok string) (int64, bool) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0, false
	}
	digits := tok
	if digits[0] == '+' || digits[0] == '-' {
		digits = digits[1:]
	}
	if digits == "" {
		return 0, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
