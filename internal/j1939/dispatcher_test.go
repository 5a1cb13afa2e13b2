package j1939

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/tturner/ecusim/internal/ecu"
	"github.com/tturner/ecusim/internal/logging"
	"github.com/tturner/ecusim/internal/sim"
)

const testSim = `
ENGINE:
  J1939SourceAddress: 0x4A
  PGNs:
    "FE EE 00": "01 02 03 04 05 06 07 08"
    "00 EE 00":
      payload: "AA BB CC DD"
      cycleTime: 10
    "00 EA 00 # 00 EF 00": "00 EF 00 # 11 22 33"
    "00 EA 00 # 00 F0 00": "ACK 01 02"
    "00 EA 00 # 00 F1 00": "DE AD BE EF"
`

type sentMessage struct {
	pgn  uint32
	dst  uint8
	data []byte
}

// fakeBus records sends and plays back queued receive messages.
type fakeBus struct {
	mu       sync.Mutex
	sent     []sentMessage
	blockFor int
}

func (f *fakeBus) Receive() (Message, error) { return Message{}, nil }

func (f *fakeBus) Send(pgn uint32, dst uint8, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{pgn, dst, append([]byte(nil), data...)})
	return nil
}

func (f *fakeBus) TrySend(pgn uint32, dst uint8, data []byte) (bool, error) {
	f.mu.Lock()
	blocked := f.blockFor > 0
	if blocked {
		f.blockFor--
	}
	f.mu.Unlock()
	if blocked {
		return true, nil
	}
	return false, f.Send(pgn, dst, data)
}

func (f *fakeBus) Close() error { return nil }

func (f *fakeBus) take() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sent
	f.sent = nil
	return out
}

type fakeLink struct {
	bus    *fakeBus
	active bool
}

func (f *fakeLink) Open() (Bus, error) { return f.bus, nil }
func (f *fakeLink) Active() bool       { return f.active }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeBus, *fakeLink) {
	t.Helper()
	f, err := sim.Parse([]byte(testSim), nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	logger, _ := logging.NewLogger(logging.LogLevelSilent, "")
	model, err := ecu.NewModel(f.Bind("ENGINE"), logger)
	if err != nil {
		t.Fatalf("NewModel returned error: %v", err)
	}
	bus := &fakeBus{}
	link := &fakeLink{bus: bus, active: true}
	return NewDispatcher(model, bus, link, logger), bus, link
}

func TestParsePGN(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"65226", 65226},        // decimal
		{"12345", 12345},        // five digits both ways: decimal wins
		{"EE FE 00", 0xFEEE},    // little-endian hex
		{"CA FE 00", 0xFECA},    // little-endian hex
		{"CAFE00", 0xFECA},      // no separators
		{"00 EA 00", 0xEA00},    //
		{"", 0},
	}
	for _, tt := range tests {
		if got := ParsePGN(tt.in); got != tt.want {
			t.Errorf("ParsePGN(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestPayloadKeyedResponseOnRequestPGN(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)

	// Plain data response: answered on the arrival PGN to the sender.
	d.handle(Message{PGN: 0xEA00, Source: 0x31, Data: []byte{0x00, 0xF1, 0x00}})
	sent := bus.take()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].pgn != 0xEA00 || sent[0].dst != 0x31 {
		t.Errorf("sent on PGN %#x to %#x", sent[0].pgn, sent[0].dst)
	}
	if want := []byte{0xDE, 0xAD, 0xBE, 0xEF}; !bytes.Equal(sent[0].data, want) {
		t.Errorf("payload = % X, want % X", sent[0].data, want)
	}
}

func TestResponseWithRespondingPGN(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)

	d.handle(Message{PGN: 0xEA00, Source: 0x31, Data: []byte{0x00, 0xEF, 0x00}})
	sent := bus.take()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	// "00 EF 00" before the '#' parses little-endian to 0xEF00.
	if sent[0].pgn != 0xEF00 || sent[0].dst != 0x31 {
		t.Errorf("sent on PGN %#x to %#x, want 0xEF00 to 0x31", sent[0].pgn, sent[0].dst)
	}
	if want := []byte{0x11, 0x22, 0x33}; !bytes.Equal(sent[0].data, want) {
		t.Errorf("payload = % X, want % X", sent[0].data, want)
	}
}

func TestACKResponse(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)

	d.handle(Message{PGN: 0xEA00, Source: 0x31, Data: []byte{0x00, 0xF0, 0x00}})
	sent := bus.take()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].pgn != PGNAck || sent[0].dst != AddrBroadcast {
		t.Errorf("ACK sent on PGN %#x to %#x, want 0xE800 to 0xFF", sent[0].pgn, sent[0].dst)
	}
	want := []byte{0x01, 0x02, 0xFF, 0xFF, 0x31, 0x00, 0xEA, 0x00}
	if !bytes.Equal(sent[0].data, want) {
		t.Errorf("ACK payload = % X, want % X", sent[0].data, want)
	}
}

func TestACKDefaults(t *testing.T) {
	got := assembleACK("", 0x42, 0xEA00)
	want := []byte{0x00, 0x00, 0xFF, 0xFF, 0x42, 0x00, 0xEA, 0x00}
	if !bytes.Equal(got, want) {
		t.Errorf("assembleACK = % X, want % X", got, want)
	}
}

func TestRequestedPGNLookup(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)

	// Request for PGN 0xFEEE, encoded little-endian in the payload.
	// The file spells the key "FE EE 00"; the lookup resolves it.
	d.handle(Message{PGN: 0xEA00, Source: 0x27, Data: []byte{0xEE, 0xFE, 0x00}})
	sent := bus.take()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].pgn != 0xFEEE || sent[0].dst != 0x27 {
		t.Errorf("sent on PGN %#x to %#x, want 0xFEEE to 0x27", sent[0].pgn, sent[0].dst)
	}
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	if !bytes.Equal(sent[0].data, want) {
		t.Errorf("payload = % X, want % X", sent[0].data, want)
	}
}

func TestRequestedPGNUnknown(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)

	d.handle(Message{PGN: 0xEA00, Source: 0x27, Data: []byte{0x01, 0x02, 0x03}})
	if sent := bus.take(); len(sent) != 0 {
		t.Errorf("unknown requested PGN answered: %+v", sent)
	}
}

func TestNonRequestPGNUnmatchedIsSilent(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)

	d.handle(Message{PGN: 0xFEF1, Source: 0x27, Data: []byte{0x00}})
	if sent := bus.take(); len(sent) != 0 {
		t.Errorf("unmatched non-request PGN answered: %+v", sent)
	}
}

func TestPeriodicSender(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)

	d.StartPeriodicSenders()
	time.Sleep(60 * time.Millisecond)
	d.stop.Store(true)
	d.senders.Wait()

	var cyclic int
	for _, m := range bus.take() {
		if m.pgn == 0xEE00 && m.dst == AddrBroadcast && bytes.Equal(m.data, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
			cyclic++
		} else {
			t.Errorf("unexpected periodic send: PGN %#x to %#x", m.pgn, m.dst)
		}
	}
	if cyclic < 2 {
		t.Errorf("cyclic sends = %d, want at least 2", cyclic)
	}
}

func TestPeriodicSenderInactiveBus(t *testing.T) {
	d, bus, link := newTestDispatcher(t)
	link.active = false

	d.StartPeriodicSenders()
	time.Sleep(40 * time.Millisecond)
	d.stop.Store(true)
	d.senders.Wait()

	if sent := bus.take(); len(sent) != 0 {
		t.Errorf("inactive bus still sent: %+v", sent)
	}
}

func TestPeriodicSenderRetriesOnBackpressure(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)
	bus.blockFor = 2

	d.StartPeriodicSenders()
	time.Sleep(150 * time.Millisecond)
	d.stop.Store(true)
	d.senders.Wait()

	if sent := bus.take(); len(sent) == 0 {
		t.Error("blocked sends never retried through")
	}
}
