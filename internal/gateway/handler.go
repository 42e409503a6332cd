package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"

	"agentdeck/internal/launch"
	"agentdeck/internal/protocol"
	"agentdeck/internal/supervisor"
)

// Agent is the part of a session the request handler drives.
type Agent interface {
	Start(creds launch.Credentials) error
	Write(text string) error
	Stop()
	Resize(cols, rows int) error
	Status() supervisor.Snapshot
}

type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{logger: logger}
}

// Handle runs one client request against agent and returns its response.
func (h *Handler) Handle(agent Agent, msg protocol.Message) protocol.Message {
	if msg.Type != protocol.TypeRequest {
		return protocol.ErrorResponse(msg, protocol.CodeBadRequest, "expected a req message")
	}

	switch msg.Op {
	case protocol.OpStartAgent:
		var payload protocol.StartAgentPayload
		if err := decode(msg.Payload, &payload); err != nil {
			return protocol.ErrorResponse(msg, protocol.CodeBadPayload, err.Error())
		}
		err := agent.Start(launch.Credentials{APIKey: payload.APIKey, Model: payload.Model})
		switch {
		case err == nil:
			return protocol.Response(msg, agent.Status())
		case errors.Is(err, supervisor.ErrAlreadyRunning):
			return protocol.ErrorResponse(msg, protocol.CodeAlreadyRunning, err.Error())
		case errors.Is(err, launch.ErrUnsupportedContract), errors.Is(err, launch.ErrInvalidContract):
			return protocol.ErrorResponse(msg, protocol.CodeBadContract, err.Error())
		case errors.Is(err, supervisor.ErrSpawnFailed):
			return protocol.ErrorResponse(msg, protocol.CodeSpawnFailed, err.Error())
		default:
			h.logger.Error("start agent failed", "err", err)
			return protocol.ErrorResponse(msg, protocol.CodeInternal, err.Error())
		}
	case protocol.OpSendCommand:
		var payload protocol.SendCommandPayload
		if err := decode(msg.Payload, &payload); err != nil {
			return protocol.ErrorResponse(msg, protocol.CodeBadPayload, err.Error())
		}
		if err := agent.Write(payload.Text); err != nil {
			if errors.Is(err, supervisor.ErrNotRunning) {
				return protocol.ErrorResponse(msg, protocol.CodeNotRunning, err.Error())
			}
			return protocol.ErrorResponse(msg, protocol.CodeInternal, err.Error())
		}
		return protocol.Response(msg, map[string]any{})
	case protocol.OpStopAgent:
		agent.Stop()
		return protocol.Response(msg, agent.Status())
	case protocol.OpGetStatus:
		return protocol.Response(msg, agent.Status())
	case protocol.OpResizeTerminal:
		var payload protocol.ResizePayload
		if err := decode(msg.Payload, &payload); err != nil {
			return protocol.ErrorResponse(msg, protocol.CodeBadPayload, err.Error())
		}
		if err := agent.Resize(payload.Cols, payload.Rows); err != nil {
			return protocol.ErrorResponse(msg, protocol.CodeBadPayload, err.Error())
		}
		return protocol.Response(msg, map[string]any{})
	default:
		return protocol.ErrorResponse(msg, protocol.CodeUnknownOp, "unknown op: "+msg.Op)
	}
}

// requesterWarning returns the warning shown to the client whose request was
// refused. Other clients of the session never see it.
func requesterWarning(res protocol.Message) (string, bool) {
	if res.Error == nil {
		return "", false
	}
	switch res.Error.Code {
	case protocol.CodeAlreadyRunning:
		return "Agent is already running", true
	case protocol.CodeNotRunning:
		return "Agent is not running", true
	}
	return "", false
}

// decode accepts an absent payload as the zero value.
func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
