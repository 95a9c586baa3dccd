package protocol

import (
	"encoding/json"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	raw := []byte(`{"id":"evt_1","type":"event","op":"session.transition","payload":{"pane_id":"%1"}}`)
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Op != "session.transition" || msg.Type != "event" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
