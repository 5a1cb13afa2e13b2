package j1939

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tturner/ecusim/internal/ecu"
	"github.com/tturner/ecusim/internal/logging"
	"github.com/tturner/ecusim/internal/sim"
)

// ackPrefix marks responses that should be answered with a J1939-21
// acknowledgement instead of a data PGN.
const ackPrefix = "ACK"

// Dispatcher answers J1939 requests for one ECU and owns its periodic
// senders.
type Dispatcher struct {
	model  *ecu.Model
	bus    Bus
	link   Link
	logger *logging.Logger

	// requestable resolves the PGN number of a 0xEA00 request to the
	// plain-PGN key it answers from.
	requestable map[uint32]string

	stop    atomic.Bool
	senders sync.WaitGroup

	// OnDispatch, when set, receives every request/response pair, for
	// the live monitor.
	OnDispatch func(ecuIdent string, request, response []byte)
}

// NewDispatcher wires a dispatcher to its ECU. The bus is the bound
// receive socket; responses to requests go out on it. The link opens
// the ephemeral sockets for the periodic senders.
func NewDispatcher(model *ecu.Model, bus Bus, link Link, logger *logging.Logger) *Dispatcher {
	d := &Dispatcher{
		model:       model,
		bus:         bus,
		link:        link,
		logger:      logger,
		requestable: make(map[uint32]string),
	}
	for _, key := range model.PlainPGNKeys() {
		for _, n := range pgnNumbers(key) {
			if _, taken := d.requestable[n]; !taken {
				d.requestable[n] = key
			}
		}
	}
	return d
}

// Run blocks on the receive socket, handling datagrams in arrival
// order until Stop.
func (d *Dispatcher) Run() {
	for {
		msg, err := d.bus.Receive()
		if err != nil {
			if !d.stop.Load() {
				d.logger.Error("%s: J1939 receive failed: %v", d.model.Ident(), err)
			}
			return
		}
		d.handle(msg)
	}
}

// Stop terminates the receive loop and the periodic senders, waiting
// for the senders to observe the flag.
func (d *Dispatcher) Stop() {
	d.stop.Store(true)
	d.bus.Close()
	d.senders.Wait()
}

// handle processes one datagram: the payload-keyed tree first, then
// the 0xEA00 request path.
func (d *Dispatcher) handle(msg Message) {
	resp, ok := d.model.J1939Response(msg.PGN, msg.Data)
	if ok && resp != "" {
		d.sendResponse(msg, resp)
		return
	}
	if msg.PGN == PGNRequest {
		d.handlePGNRequest(msg)
	}
}

// sendResponse routes a matched response string: an ACK prefix
// assembles an acknowledgement to the broadcast address, a '#' selects
// the responding PGN, anything else answers on the request's PGN.
func (d *Dispatcher) sendResponse(msg Message, resp string) {
	var (
		pgn     = msg.PGN
		dst     = msg.Source
		payload []byte
	)
	switch {
	case strings.HasPrefix(resp, ackPrefix):
		pgn = PGNAck
		dst = AddrBroadcast
		payload = assembleACK(resp[len(ackPrefix):], msg.Source, msg.PGN)
	case strings.Contains(resp, "#"):
		i := strings.Index(resp, "#")
		pgn = ParsePGN(resp[:i])
		payload = sim.HexToBytes(resp[i+1:])
	default:
		payload = sim.HexToBytes(resp)
	}

	if err := d.bus.Send(pgn, dst, payload); err != nil {
		d.logger.Error("%s: %v", d.model.Ident(), err)
		return
	}
	d.emit(msg, payload)
}

// handlePGNRequest answers a J1939-21 Request: the payload encodes the
// requested PGN, answered from the plain-PGN table on that PGN.
func (d *Dispatcher) handlePGNRequest(msg Message) {
	requested := ParsePGN(sim.BytesToHex(msg.Data))
	key, ok := d.requestable[requested]
	if !ok {
		return
	}
	data, ok := d.model.PGNData(key)
	if !ok || data.Payload == "" {
		return
	}
	payload := sim.HexToBytes(data.Payload)
	if err := d.bus.Send(requested, msg.Source, payload); err != nil {
		d.logger.Error("%s: %v", d.model.Ident(), err)
		return
	}
	d.emit(msg, payload)
}

// assembleACK builds the 8-byte J1939-21 §5.4.4 acknowledgement:
// control byte and group function from the response remainder
// (defaulting to zero), two reserved bytes, the acknowledged address,
// and the request's PGN little-endian.
func assembleACK(info string, target uint8, pgn uint32) []byte {
	bytes := sim.HexToBytes(info)
	out := make([]byte, 0, 8)
	if len(bytes) > 0 {
		out = append(out, bytes[0])
	} else {
		out = append(out, 0x00)
	}
	if len(bytes) > 1 {
		out = append(out, bytes[1])
	} else {
		out = append(out, 0x00)
	}
	out = append(out, 0xFF, 0xFF, target)
	out = append(out, pgnLE(pgn)...)
	return out
}

func (d *Dispatcher) emit(msg Message, response []byte) {
	d.logger.LogDispatch("J1939", d.model.Ident(), msg.Data, response)
	if d.OnDispatch != nil {
		d.OnDispatch(d.model.Ident(), msg.Data, response)
	}
}
