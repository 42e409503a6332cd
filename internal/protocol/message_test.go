package protocol

import (
	"encoding/json"
	"testing"
)

func TestMessage_DecodesStartRequest(t *testing.T) {
	raw := []byte(`{"id":"req_1","type":"req","op":"start_agent","payload":{"apiKey":"sk-1","model":"gpt-4o"}}`)
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if msg.Op != OpStartAgent || msg.Type != TypeRequest {
		t.Fatalf("unexpected message: %+v", msg)
	}
	var p StartAgentPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("payload unmarshal failed: %v", err)
	}
	if p.APIKey != "sk-1" || p.Model != "gpt-4o" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestErrorResponse_KeepsCorrelationID(t *testing.T) {
	req := Message{ID: "req_9", Type: TypeRequest, Op: OpSendCommand}
	res := ErrorResponse(req, CodeNotRunning, "agent is not running")
	b, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":"req_9","type":"res","op":"send_command","payload":{},"error":{"code":"AGENT_NOT_RUNNING","message":"agent is not running"}}`
	if string(b) != want {
		t.Fatalf("unexpected wire form:\n got %s\nwant %s", b, want)
	}
}

func TestResponse_OmitsErrorOnSuccess(t *testing.T) {
	res := Response(Message{ID: "req_2", Op: OpGetStatus}, StatusPayload{Status: "running"})
	b, _ := json.Marshal(res)
	want := `{"id":"req_2","type":"res","op":"get_status","payload":{"status":"running"}}`
	if string(b) != want {
		t.Fatalf("unexpected wire form:\n got %s\nwant %s", b, want)
	}
}
