package doip

import (
	"github.com/tturner/ecusim/internal/ecu"
	"github.com/tturner/ecusim/internal/logging"
	"github.com/tturner/ecusim/internal/sim"
	"github.com/tturner/ecusim/internal/uds"
)

// Dispatcher routes diagnostic payloads to the simulated ECUs by
// logical address.
type Dispatcher struct {
	ecus   []*ecu.Model
	logger *logging.Logger

	// OnDispatch, when set, receives every request/response pair, for
	// the live monitor.
	OnDispatch func(ecuIdent string, request, response []byte)
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher(logger *logging.Logger) *Dispatcher {
	return &Dispatcher{logger: logger}
}

// AddECU registers a simulated ECU. Only ECUs with a DoIP logical
// address are reachable.
func (d *Dispatcher) AddECU(m *ecu.Model) {
	d.ecus = append(d.ecus, m)
}

// find returns the ECU owning the logical address, or nil.
func (d *Dispatcher) find(address uint16) *ecu.Model {
	for _, m := range d.ecus {
		if m.HasDoip() && m.DoipAddress() == address {
			return m
		}
	}
	return nil
}

// Notify reports whether an ECU owns the target address, deciding the
// diagnostic ACK code before the payload is dispatched.
func (d *Dispatcher) Notify(target uint16) bool {
	return d.find(target) != nil
}

// Handle routes one diagnostic payload. It returns the responding
// ECU's logical address and the response bytes; ok is false when no
// ECU owns the target address. A matched but empty response returns
// ok with nil bytes, which suppresses sending.
func (d *Dispatcher) Handle(target uint16, request []byte) (source uint16, response []byte, ok bool) {
	m := d.find(target)
	if m == nil {
		return 0, nil, false
	}

	if resp, matched := m.RawResponse(request); matched {
		raw := sim.HexToBytes(resp)
		d.emit(m, request, raw)
		return m.DoipAddress(), raw, true
	}

	var sid byte
	if len(request) > 0 {
		sid = request[0]
	}
	neg := []byte{uds.NegativeResponse, sid, uds.NRCServiceNotSupported}
	d.emit(m, request, neg)
	return m.DoipAddress(), neg, true
}

func (d *Dispatcher) emit(m *ecu.Model, request, response []byte) {
	d.logger.LogDispatch("DoIP", m.Ident(), request, response)
	if d.OnDispatch != nil {
		d.OnDispatch(m.Ident(), request, response)
	}
}
