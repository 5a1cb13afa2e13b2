package j1939

import (
	"time"

	"github.com/tturner/ecusim/internal/sim"
)

// Periodic sender tuning.
const (
	sendRetries = 5
	retryDelay  = 50 * time.Millisecond
)

// StartPeriodicSenders launches one sender per plain PGN key. Each
// sender re-evaluates the simulation every cycle, so payload and cycle
// time may change at runtime; a cycle time of zero terminates the
// sender.
func (d *Dispatcher) StartPeriodicSenders() {
	keys := d.model.PlainPGNKeys()
	d.logger.Info("%s: %d PGN definitions, starting periodic senders", d.model.Ident(), len(keys))
	for _, key := range keys {
		d.senders.Add(1)
		go d.sendCyclic(key)
	}
}

// sendCyclic is one periodic sender. When the bus is inactive it skips
// the send and sleeps through the cycle instead of busy-waiting.
func (d *Dispatcher) sendCyclic(key string) {
	defer d.senders.Done()

	pgn := ParsePGN(key)

	for {
		data, ok := d.model.PGNData(key)
		if !ok || data.CycleTime == 0 {
			return
		}

		if d.link.Active() {
			d.sendOnce(pgn, data.Payload)
		}

		time.Sleep(time.Duration(data.CycleTime) * time.Millisecond)
		if d.stop.Load() {
			return
		}
	}
}

// sendOnce opens an ephemeral socket and tries a bounded number of
// non-blocking sends, backing off while the interface queue is full.
func (d *Dispatcher) sendOnce(pgn uint32, payloadHex string) {
	payload := sim.HexToBytes(payloadHex)

	bus, err := d.link.Open()
	if err != nil {
		d.logger.Error("%s: periodic PGN %#x: %v", d.model.Ident(), pgn, err)
		return
	}
	defer bus.Close()

	for retries := sendRetries; retries > 0; {
		blocked, err := bus.TrySend(pgn, AddrBroadcast, payload)
		if err != nil {
			retries--
			d.logger.Error("%s: periodic PGN %#x: %v (%d retries remaining)", d.model.Ident(), pgn, err, retries)
			continue
		}
		if !blocked {
			return
		}
		retries--
		d.logger.Verbose("%s: PGN %#x send blocked, %d retries remaining", d.model.Ident(), pgn, retries)
		time.Sleep(retryDelay)
	}
}
