// Package uds implements the ISO-TP front: it parses the UDS service
// byte of each received message, consults the ECU's Raw request tree,
// and falls back to the built-in service handlers.
package uds

import (
	"github.com/tturner/ecusim/internal/ecu"
	"github.com/tturner/ecusim/internal/logging"
	"github.com/tturner/ecusim/internal/sim"
)

// Sender transmits one complete UDS response on the ISO-TP layer.
type Sender interface {
	Send(data []byte) error
}

// Dispatcher answers UDS requests for one ECU.
type Dispatcher struct {
	model  *ecu.Model
	sender Sender
	logger *logging.Logger

	// OnDispatch, when set, receives every request/response pair, for
	// the live monitor.
	OnDispatch func(ecuIdent string, request, response []byte)
}

// NewDispatcher wires a dispatcher to its ECU and response sender.
func NewDispatcher(model *ecu.Model, sender Sender, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{model: model, sender: sender, logger: logger}
}

// Handle processes one received UDS message.
func (d *Dispatcher) Handle(request []byte) {
	if len(request) == 0 {
		return
	}

	if resp, ok := d.model.RawResponse(request); ok {
		raw := sim.HexToBytes(resp)
		if len(raw) > 0 {
			d.send(request, raw)
		} else {
			d.emit(request, nil)
		}
		d.model.Session.Reset()
		return
	}

	switch request[0] {
	case ServiceReadDataByIdentifier:
		d.readDataByIdentifier(request)
		d.model.Session.Reset()
	case ServiceDiagnosticSessionControl:
		d.diagnosticSessionControl(request)
	case ServiceSecurityAccess:
		d.securityAccess(request)
	default:
		d.send(request, []byte{NegativeResponse, request[0], NRCServiceNotSupported})
	}
}

// readDataByIdentifier answers service 0x22. The two identifier bytes
// select an entry of the ReadDataByIdentifier table, scoped to the
// Programming or Extended sub-table when such a session is active.
func (d *Dispatcher) readDataByIdentifier(request []byte) {
	if len(request) < 3 {
		d.send(request, []byte{NegativeResponse, ServiceReadDataByIdentifier, NRCServiceNotSupported})
		return
	}

	did := uint32(request[1])<<8 | uint32(request[2])
	didHex := sim.ToByteResponse(did, 2)

	var scope string
	switch d.model.Session.CurrentSession() {
	case ecu.SessionProgramming:
		scope = sim.SessionProgramming
	case ecu.SessionExtended:
		scope = sim.SessionExtended
	}

	data, ok := d.model.DataByIdentifier(didHex, scope)
	if !ok || data == "" {
		d.send(request, []byte{NegativeResponse, ServiceReadDataByIdentifier, NRCServiceNotSupported})
		return
	}

	resp := append([]byte{ResponseReadDataByIdentifier, request[1], request[2]}, sim.HexToBytes(data)...)
	d.send(request, resp)
}

// diagnosticSessionControl answers service 0x10 and arms the session
// timeout for the non-default sessions.
func (d *Dispatcher) diagnosticSessionControl(request []byte) {
	if len(request) < 2 {
		d.send(request, []byte{NegativeResponse, ServiceDiagnosticSessionControl, NRCServiceNotSupported})
		return
	}

	sub := request[1]
	switch sub {
	case ecu.SessionDefault:
		d.model.Session.SwitchToSession(ecu.SessionDefault)
	case ecu.SessionProgramming:
		d.model.Session.SwitchToSession(ecu.SessionProgramming)
		d.model.Session.StartTimeout()
	case ecu.SessionExtended:
		d.model.Session.SwitchToSession(ecu.SessionExtended)
		d.model.Session.StartTimeout()
	default:
		d.logger.Error("%s: invalid session id %#02x", d.model.Ident(), sub)
	}

	d.send(request, []byte{ResponseDiagnosticSessionControl, sub})
}

// securityAccess walks the seed/key handshake. A subfunction with a
// configured seed returns it and arms the next level; the armed level
// acknowledges with the bare positive response. Seeds are script
// values, not cryptographic material.
func (d *Dispatcher) securityAccess(request []byte) {
	if len(request) < 2 {
		d.send(request, []byte{NegativeResponse, ServiceSecurityAccess, NRCServiceNotSupported})
		return
	}

	sub := request[1]
	if seed := d.model.Seed(sub); seed != "" {
		resp := append([]byte{ServiceSecurityAccess, sub}, sim.HexToBytes(seed)...)
		d.model.SetSecurityAccessExpected(sub + 1)
		d.send(request, resp)
		return
	}

	if sub == d.model.SecurityAccessExpected() && sub != 0 {
		d.model.SetSecurityAccessExpected(0)
		d.send(request, []byte{ResponseSecurityAccess})
		return
	}

	d.send(request, []byte{NegativeResponse, ServiceSecurityAccess, NRCServiceNotSupported})
}

func (d *Dispatcher) send(request, response []byte) {
	if err := d.sender.Send(response); err != nil {
		d.logger.Error("%s: UDS send failed: %v", d.model.Ident(), err)
		return
	}
	d.emit(request, response)
}

func (d *Dispatcher) emit(request, response []byte) {
	d.logger.LogDispatch("UDS", d.model.Ident(), request, response)
	if d.OnDispatch != nil {
		d.OnDispatch(d.model.Ident(), request, response)
	}
}
