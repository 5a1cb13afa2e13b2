package sim

import (
	"fmt"
	"strings"
	"time"
)

// maxResponseBytes bounds toByteResponse output, matching the largest
// diagnostic message the fronts will carry.
const maxResponseBytes = 4096

// SessionHook exposes the owning ECU's diagnostic session to callables.
type SessionHook interface {
	CurrentSession() uint8
	SwitchToSession(id uint8)
}

// DoipHook exposes DoIP connection control to callables.
type DoipHook interface {
	Disconnect()
	SendAnnouncements()
}

// Env is the helper surface injected into simulation callables. One Env
// exists per ECU; the received-data accumulator is therefore scoped to
// the ECU, not the process.
type Env struct {
	received strings.Builder

	session SessionHook
	doip    DoipHook
	sendRaw func([]byte)

	// sleep is replaceable so tests do not wait.
	sleep func(time.Duration)
}

// NewEnv returns a helper environment with no hooks bound.
func NewEnv() *Env {
	return &Env{sleep: time.Sleep}
}

// BindSession attaches the session hook used by CurrentSession and
// SwitchToSession.
func (e *Env) BindSession(h SessionHook) { e.session = h }

// BindDoip attaches the DoIP hook used by DisconnectDoip and
// SendDoipAnnouncements.
func (e *Env) BindDoip(h DoipHook) { e.doip = h }

// BindRawSender attaches the function used by SendRaw to broadcast a
// payload on all configured fronts.
func (e *Env) BindRawSender(f func([]byte)) { e.sendRaw = f }

// Ascii renders s as hex bytes padded with a single space on both ends
// so it concatenates seamlessly into response strings:
// Ascii("Hi") -> " 48 69 ".
func Ascii(s string) string {
	if len(s) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(s)*3 + 1)
	for i := 0; i < len(s); i++ {
		c := s[i]
		sb.WriteByte(' ')
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0x0F])
	}
	sb.WriteByte(' ')
	return sb.String()
}

// ToByteResponse renders value big-endian into length bytes of
// space-separated hex. Lengths above four zero-pad high, below four
// truncate to the low bytes:
//
//	ToByteResponse(13248, 2) -> "33 C0"
//	ToByteResponse(13248, 3) -> "00 33 C0"
//	ToByteResponse(13248, 1) -> "C0"
func ToByteResponse(value uint32, length int) string {
	if length <= 0 {
		return ""
	}
	if length > maxResponseBytes {
		length = maxResponseBytes
	}
	out := make([]byte, length)
	for i := length - 1; i >= 0; i-- {
		out[i] = byte(value)
		value >>= 8
	}
	return BytesToHex(out)
}

// GetCounterByte returns the second byte of msg as two hex characters,
// msg being a hex byte string with optional whitespace.
func GetCounterByte(msg string) string {
	stripped := StripWhitespace(msg)
	if len(stripped) < 4 {
		return ""
	}
	return stripped[2:4]
}

// GetDataBytes appends everything past the first two bytes of msg to
// the ECU's received-data accumulator for a later CreateHash.
func (e *Env) GetDataBytes(msg string) {
	stripped := StripWhitespace(msg)
	if len(stripped) <= 4 {
		return
	}
	e.received.WriteString(stripped[4:])
}

// CreateHash returns the CRC-CCITT (poly 0x1021, seed 0xFFFF) of the
// accumulated data bytes as uppercase hex, zero-padded to an even
// number of characters, then clears the accumulator. An empty
// accumulator hashes to "0000".
func (e *Env) CreateHash() string {
	data := HexToBytes(e.received.String())
	e.received.Reset()
	if len(data) == 0 {
		return "0000"
	}
	s := fmt.Sprintf("%X", crcCCITT(data))
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return s
}

// Sleep suspends the calling script for ms milliseconds.
func (e *Env) Sleep(ms uint) {
	e.sleep(time.Duration(ms) * time.Millisecond)
}

// CurrentSession returns the ECU's active diagnostic session, or the
// default session when no hook is bound.
func (e *Env) CurrentSession() uint8 {
	if e.session == nil {
		return 0x01
	}
	return e.session.CurrentSession()
}

// SwitchToSession changes the ECU's diagnostic session.
func (e *Env) SwitchToSession(id uint8) {
	if e.session != nil {
		e.session.SwitchToSession(id)
	}
}

// SendRaw sends the given hex byte string immediately on every front
// the ECU is configured for.
func (e *Env) SendRaw(hexStr string) {
	if e.sendRaw != nil {
		e.sendRaw(HexToBytes(hexStr))
	}
}

// DisconnectDoip drops the active DoIP TCP connection.
func (e *Env) DisconnectDoip() {
	if e.doip != nil {
		e.doip.Disconnect()
	}
}

// SendDoipAnnouncements triggers a round of DoIP vehicle announcements.
func (e *Env) SendDoipAnnouncements() {
	if e.doip != nil {
		e.doip.SendAnnouncements()
	}
}

// crcCCITT is the CCITT-FALSE variant: polynomial 0x1021, seed 0xFFFF,
// no reflection, no final xor.
func crcCCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
