// Package doip implements the diagnostic-over-IP front: ISO 13400
// framing, the UDP/TCP gateway, and routing of diagnostic payloads to
// the simulated ECUs by logical address.
package doip

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DoIP ISO 13400-2:2012
const (
	protocolVersion        uint8 = 0x02
	inverseProtocolVersion uint8 = ^protocolVersion
)

// headerSize is the generic DoIP header: version, inverse version,
// payload type, payload length.
const headerSize = 8

// Payload types (ISO 13400-2 table 12).
const (
	payloadGenericNACK           uint16 = 0x0000
	payloadVehicleIdentRequest   uint16 = 0x0001
	payloadVehicleAnnouncement   uint16 = 0x0004
	payloadRoutingActivationReq  uint16 = 0x0005
	payloadRoutingActivationResp uint16 = 0x0006
	payloadAliveCheckRequest     uint16 = 0x0007
	payloadAliveCheckResponse    uint16 = 0x0008
	payloadDiagnosticMessage     uint16 = 0x8001
	payloadDiagnosticAck         uint16 = 0x8002
	payloadDiagnosticNack        uint16 = 0x8003
)

// Generic header NACK codes (table 14).
const (
	nackIncorrectPattern   uint8 = 0x00
	nackUnknownPayloadType uint8 = 0x01
	nackMessageTooLarge    uint8 = 0x02
	nackInvalidLength      uint8 = 0x04
)

// Routing activation response codes (table 25).
const (
	routingSuccessfullyActivated uint8 = 0x10
)

// AckUnknownTargetAddress is the diagnostic NACK code for a target
// logical address no hosted ECU answers to.
const AckUnknownTargetAddress uint8 = 0x03

// AckOK is the positive diagnostic ACK code.
const AckOK uint8 = 0x00

// maxPayload bounds accepted payload lengths.
const maxPayload = 0x10000

// ErrUnknownAddress reports a diagnostic message for a logical address
// no hosted ECU owns.
var ErrUnknownAddress = errors.New("unknown DoIP target address")

var errShortFrame = errors.New("short DoIP frame")

// message is one decoded DoIP frame.
type message struct {
	payloadType uint16
	payload     []byte
}

// packFrame renders a DoIP frame with the generic header.
func packFrame(payloadType uint16, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	buf[0] = protocolVersion
	buf[1] = inverseProtocolVersion
	binary.BigEndian.PutUint16(buf[2:4], payloadType)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf
}

// unpackFrame consumes one frame from buf, returning the decoded
// message and the remaining bytes. A nil message with nil error means
// the buffer does not hold a complete frame yet.
func unpackFrame(buf []byte) (*message, []byte, error) {
	if len(buf) < headerSize {
		return nil, buf, nil
	}
	if buf[0] != protocolVersion || buf[1] != inverseProtocolVersion {
		return nil, nil, fmt.Errorf("bad DoIP protocol version %#02x/%#02x", buf[0], buf[1])
	}
	payloadType := binary.BigEndian.Uint16(buf[2:4])
	length := binary.BigEndian.Uint32(buf[4:8])
	if length > maxPayload {
		return nil, nil, fmt.Errorf("DoIP payload too large: %d", length)
	}
	total := headerSize + int(length)
	if len(buf) < total {
		return nil, buf, nil
	}
	msg := &message{
		payloadType: payloadType,
		payload:     append([]byte(nil), buf[headerSize:total]...),
	}
	return msg, buf[total:], nil
}

// packVehicleAnnouncement renders the vehicle announcement / vehicle
// identification response payload.
func packVehicleAnnouncement(vin string, logicalAddress uint16, eid, gid uint64, furtherAction uint8) []byte {
	// VINs occupy exactly 17 bytes on the wire.
	for len(vin) < 17 {
		vin += "0"
	}
	payload := make([]byte, 0, 17+2+6+6+1)
	payload = append(payload, vin[:17]...)
	payload = binary.BigEndian.AppendUint16(payload, logicalAddress)
	payload = append(payload, uint48(eid)...)
	payload = append(payload, uint48(gid)...)
	payload = append(payload, furtherAction)
	return packFrame(payloadVehicleAnnouncement, payload)
}

// packDiagnosticMessage renders a diagnostic message frame.
func packDiagnosticMessage(source, target uint16, data []byte) []byte {
	payload := make([]byte, 4+len(data))
	binary.BigEndian.PutUint16(payload[0:2], source)
	binary.BigEndian.PutUint16(payload[2:4], target)
	copy(payload[4:], data)
	return packFrame(payloadDiagnosticMessage, payload)
}

// packDiagnosticAck renders a positive or negative diagnostic
// acknowledgement for the message received from source.
func packDiagnosticAck(source, target uint16, positive bool, code uint8) []byte {
	payload := []byte{0, 0, 0, 0, code}
	binary.BigEndian.PutUint16(payload[0:2], source)
	binary.BigEndian.PutUint16(payload[2:4], target)
	if positive {
		return packFrame(payloadDiagnosticAck, payload)
	}
	return packFrame(payloadDiagnosticNack, payload)
}

// packRoutingActivationResponse confirms routing activation for the
// tester's source address.
func packRoutingActivationResponse(testerAddress, gatewayAddress uint16, code uint8) []byte {
	payload := make([]byte, 0, 2+2+1+4)
	payload = binary.BigEndian.AppendUint16(payload, testerAddress)
	payload = binary.BigEndian.AppendUint16(payload, gatewayAddress)
	payload = append(payload, code)
	payload = append(payload, 0, 0, 0, 0) // reserved
	return packFrame(payloadRoutingActivationResp, payload)
}

// packGenericNACK renders a generic header negative acknowledge.
func packGenericNACK(code uint8) []byte {
	return packFrame(payloadGenericNACK, []byte{code})
}

// diagnosticMessage splits a diagnostic message payload into source
// address, target address, and user data.
func diagnosticMessage(payload []byte) (source, target uint16, data []byte, err error) {
	if len(payload) < 4 {
		return 0, 0, nil, errShortFrame
	}
	source = binary.BigEndian.Uint16(payload[0:2])
	target = binary.BigEndian.Uint16(payload[2:4])
	return source, target, payload[4:], nil
}

// routingActivationRequest extracts the tester source address.
func routingActivationRequest(payload []byte) (uint16, error) {
	if len(payload) < 2 {
		return 0, errShortFrame
	}
	return binary.BigEndian.Uint16(payload[0:2]), nil
}

// uint48 renders the low six bytes of v big-endian, the EID/GID wire
// width.
func uint48(v uint64) []byte {
	return []byte{
		byte(v >> 40), byte(v >> 32), byte(v >> 24),
		byte(v >> 16), byte(v >> 8), byte(v),
	}
}
