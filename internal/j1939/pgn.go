// Package j1939 implements the SAE J1939 front: PGN request routing,
// acknowledgement assembly, and the per-PGN periodic senders.
package j1939

import (
	"strconv"

	"github.com/tturner/ecusim/internal/pattern"
	"github.com/tturner/ecusim/internal/sim"
)

// Well-known PGNs and addresses.
const (
	// PGNRequest is the J1939-21 Request message.
	PGNRequest uint32 = 0xEA00
	// PGNAck carries J1939-21 §5.4.4 acknowledgements.
	PGNAck uint32 = 0xE800
	// AddrBroadcast is the global destination address.
	AddrBroadcast uint8 = 0xFF
)

// maxPGN is the largest 18-bit parameter group number.
const maxPGN = 0x3FFFF

// ParsePGN converts a PGN spelling from a simulation file or response
// string to a number. A string of fewer than six non-separator
// characters that parses as a positive decimal below 100000 is taken
// as decimal; everything else is little-endian hex bytes, up to three.
// Five-digit strings that are valid both ways are decimal; that
// ambiguity is inherited from the file format.
func ParsePGN(s string) uint32 {
	cleaned := pattern.CleanKey(s)
	if len(cleaned) < 6 {
		if n, err := strconv.ParseUint(cleaned, 10, 32); err == nil && n > 0 && n < 100000 {
			return uint32(n)
		}
	}
	b := sim.HexToBytes(cleaned)
	if len(b) > 3 {
		return 0
	}
	var n uint32
	for i := len(b) - 1; i >= 0; i-- {
		n = n<<8 | uint32(b[i])
	}
	return n
}

// pgnNumbers returns the PGN numbers a simulation file key can denote.
// Keys are written either little-endian like request payloads
// ("EE FE 00" for 0xFEEE) or in the human reading order with a
// trailing page/source byte ("FE EE 00"); the 0xEA00 request lookup
// accepts both.
func pgnNumbers(key string) []uint32 {
	cleaned := pattern.CleanKey(key)
	le := ParsePGN(cleaned)

	if len(cleaned) < 6 {
		if _, err := strconv.ParseUint(cleaned, 10, 32); err == nil {
			return []uint32{le}
		}
	}

	b := sim.HexToBytes(cleaned)
	if len(b) > 3 {
		return []uint32{le}
	}
	var be uint32
	for _, v := range b {
		be = be<<8 | uint32(v)
	}
	if be > maxPGN {
		be >>= 8
	}
	if be == le {
		return []uint32{le}
	}
	return []uint32{le, be}
}

// pgnLE renders a PGN as its three little-endian wire bytes.
func pgnLE(pgn uint32) []byte {
	return []byte{byte(pgn), byte(pgn >> 8), byte(pgn >> 16)}
}
