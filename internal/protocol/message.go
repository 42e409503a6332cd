// Package protocol defines the websocket envelope spoken between the
// browser and the gateway.
package protocol

import "encoding/json"

const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Client requests.
const (
	OpStartAgent     = "start_agent"
	OpSendCommand    = "send_command"
	OpStopAgent      = "stop_agent"
	OpGetStatus      = "get_status"
	OpResizeTerminal = "resize_terminal"
)

// Server push events.
const (
	OpStatus       = "status"
	OpLog          = "log"
	OpTerminalData = "terminal_data"
)

const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeBadPayload     = "BAD_PAYLOAD"
	CodeUnknownOp      = "UNKNOWN_OP"
	CodeAlreadyRunning = "AGENT_ALREADY_RUNNING"
	CodeNotRunning     = "AGENT_NOT_RUNNING"
	CodeSpawnFailed    = "AGENT_SPAWN_FAILED"
	CodeBadContract    = "LAUNCH_CONTRACT_INVALID"
	CodeInternal       = "INTERNAL_ERROR"
)

type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type StartAgentPayload struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
}

type SendCommandPayload struct {
	Text string `json:"text"`
}

type ResizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type StatusPayload struct {
	Status string `json:"status"`
}

type LogPayload struct {
	Msg  string `json:"msg"`
	Type string `json:"type"`
}

// TerminalDataPayload carries one raw output chunk. Data is a string so
// control sequences reach the browser terminal untouched.
type TerminalDataPayload struct {
	Data string `json:"data"`
}

func MustRaw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Response builds the reply to req carrying payload.
func Response(req Message, payload any) Message {
	return Message{ID: req.ID, Type: TypeResponse, Op: req.Op, Payload: MustRaw(payload)}
}

func ErrorResponse(req Message, code, message string) Message {
	return Message{
		ID:      req.ID,
		Type:    TypeResponse,
		Op:      req.Op,
		Payload: MustRaw(map[string]any{}),
		Error:   &ErrPayload{Code: code, Message: message},
	}
}
