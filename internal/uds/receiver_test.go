package uds

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport feeds queued messages to the receiver and records
// sends.
type fakeTransport struct {
	in     chan []byte
	closed chan struct{}

	mu   sync.Mutex
	sent [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Receive() ([]byte, error) {
	select {
	case msg := <-f.in:
		return msg, nil
	case <-f.closed:
		return nil, errors.New("transport closed")
	}
}

func (f *fakeTransport) Close() error {
	close(f.closed)
	return nil
}

func (f *fakeTransport) first() ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil, false
	}
	return f.sent[0], true
}

func TestReceiverPumpsMessages(t *testing.T) {
	d, _ := newTestDispatcher(t)
	transport := newFakeTransport()
	d.sender = transport

	r := NewReceiver(transport, d, d.logger)
	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	transport.in <- []byte{0x22, 0xF1, 0x90}
	deadline := time.Now().Add(time.Second)
	var got []byte
	for {
		if resp, ok := transport.first(); ok {
			got = resp
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no response sent")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if want := []byte{0x62, 0xF1, 0x90, 0x01}; !bytes.Equal(got, want) {
		t.Errorf("response = % X, want % X", got, want)
	}

	r.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver did not stop")
	}
}
