package uds

import (
	"sync/atomic"

	"github.com/tturner/ecusim/internal/logging"
)

// Receiver pumps one transport into a dispatcher. Each simulated ECU
// runs one receiver for its physical request id and may run a second
// one for the functional broadcast id; both feed the same dispatcher,
// so session state stays coherent.
type Receiver struct {
	transport  Transport
	dispatcher *Dispatcher
	logger     *logging.Logger
	closed     atomic.Bool
}

// NewReceiver wires a receive loop to its transport and dispatcher.
func NewReceiver(transport Transport, dispatcher *Dispatcher, logger *logging.Logger) *Receiver {
	return &Receiver{transport: transport, dispatcher: dispatcher, logger: logger}
}

// Run blocks, handling messages in arrival order until Stop closes the
// transport.
func (r *Receiver) Run() {
	for {
		msg, err := r.transport.Receive()
		if err != nil {
			if !r.closed.Load() {
				r.logger.Error("UDS receive failed: %v", err)
			}
			return
		}
		r.dispatcher.Handle(msg)
	}
}

// Stop closes the transport, unblocking Run.
func (r *Receiver) Stop() {
	r.closed.Store(true)
	r.transport.Close()
}
