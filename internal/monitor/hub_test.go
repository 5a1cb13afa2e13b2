package monitor

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tturner/ecusim/internal/logging"
)

func TestHubBroadcast(t *testing.T) {
	logger, _ := logging.NewLogger(logging.LogLevelSilent, "")
	hub := NewHub(logger)
	if err := hub.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer hub.Stop()

	url := "ws://" + hub.Addr().String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	// The subscription is registered asynchronously on upgrade; give
	// the server a moment, then retry the first dispatch a few times.
	var event Event
	received := false
	for i := 0; i < 20 && !received; i++ {
		hub.Dispatch("UDS", "PCM", []byte{0x22, 0xF1, 0x90}, []byte{0x62, 0xF1, 0x90, 0x01})
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		_, data, err := conn.ReadMessage()
		if err != nil {
			continue
		}
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		received = true
	}
	if !received {
		t.Fatal("no event received")
	}

	if event.Front != "UDS" || event.Ecu != "PCM" {
		t.Errorf("event = %+v", event)
	}
	if event.Request != "22 F1 90" || event.Response != "62 F1 90 01" {
		t.Errorf("event bytes = %q -> %q", event.Request, event.Response)
	}
}

func TestSink(t *testing.T) {
	logger, _ := logging.NewLogger(logging.LogLevelSilent, "")
	hub := NewHub(logger)

	// Without clients a sink dispatch is a no-op; it must not panic.
	sink := hub.Sink("J1939")
	sink("ENGINE", []byte{0x01}, nil)
}
