// Package ipc implements the daemon-client protocol: length-prefixed JSON
// frames over a per-user unix socket.
package ipc

import (
	"encoding/json"
	"fmt"

	"capit/src/core"
)

// Version is bumped on every incompatible protocol change. Client and daemon
// must agree exactly.
const Version = 3

// Client → daemon message type tags.
const (
	TypeHello   = "hello"
	TypeCapture = "capture"
	TypeOutputs = "outputs"
	TypeStatus  = "status"
	TypeCancel  = "cancel"
)

// Daemon → client message type tags.
const (
	TypeHelloOK      = "hello_ok"
	TypeOK           = "ok"
	TypeOutputsReply = "outputs_reply"
	TypeStatusReply  = "status_reply"
	TypeError        = "error"
	TypeEvent        = "event"
)

// OKReply acknowledges a request with no payload (cancel).
type OKReply struct {
	Type string `json:"type"`
}

// Request is the single client → daemon message shape. Type selects the
// operation; the remaining fields apply only to some types.
type Request struct {
	Type string `json:"type"`

	// Version of the protocol the client speaks (hello only).
	Version int `json:"version,omitempty"`

	// Mode of the capture (capture only).
	Mode core.Mode `json:"mode,omitempty"`

	// Output optionally names the target output, e.g. "DP-1" (capture only).
	Output string `json:"output,omitempty"`
}

// ThemeSnapshot is the daemon's immutable UI config, shared with every
// client at handshake.
type ThemeSnapshot struct {
	// Colours are ARGB (0xAARRGGBB).
	AccentColour        uint32 `json:"accent_colour"`
	BarBackgroundColour uint32 `json:"bar_background_colour"`

	// Mode is auto, dark, or light.
	Mode string `json:"mode"`
}

// HelloOK acknowledges the handshake and carries the theme snapshot.
type HelloOK struct {
	Type    string        `json:"type"`
	Version int           `json:"version"`
	Theme   ThemeSnapshot `json:"theme"`
}

// OutputsReply answers an outputs query.
type OutputsReply struct {
	Type    string            `json:"type"`
	Outputs []core.OutputInfo `json:"outputs"`
}

// StatusReply answers a status query.
type StatusReply struct {
	Type    string `json:"type"`
	Running bool   `json:"running"`

	// ActiveMode is set while a capture session is in flight.
	ActiveMode core.Mode `json:"active_mode,omitempty"`
}

// Error kinds surfaced to clients.
const (
	ErrKindBusy            = "busy"
	ErrKindBadRequest      = "bad_request"
	ErrKindVersionMismatch = "version_mismatch"
	ErrKindInternal        = "internal"
)

// ErrorReply reports a request-level failure. No session was created.
type ErrorReply struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Event kinds. Completed, cancelled and failed are terminal: exactly one of
// them ends every capture session.
const (
	EventSelection = "selection"
	EventCompleted = "completed"
	EventCancelled = "cancelled"
	EventFailed    = "failed"
)

// Failure reasons carried by failed events.
const (
	ReasonUnknownOutput = "unknown_output"
	ReasonOverlay       = "overlay"
	ReasonCapture       = "capture"
	ReasonEncode        = "encode"
	ReasonWrite         = "write"
)

// Event is a session progress or terminal notification.
type Event struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`

	// Rect accompanies selection progress events.
	Rect *core.Rect `json:"rect,omitempty"`

	// Path accompanies completed events.
	Path string `json:"path,omitempty"`

	// Reason and Message accompany failed events.
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether the event ends its session.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventCompleted, EventCancelled, EventFailed:
		return true
	}
	return false
}

// DecodeServerMessage turns a raw frame from the daemon into its typed
// message struct.
func DecodeServerMessage(b []byte) (any, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("ipc: malformed frame: %w", err)
	}

	switch head.Type {
	case TypeHelloOK:
		var m HelloOK
		return &m, json.Unmarshal(b, &m)
	case TypeOK:
		var m OKReply
		return &m, json.Unmarshal(b, &m)
	case TypeOutputsReply:
		var m OutputsReply
		return &m, json.Unmarshal(b, &m)
	case TypeStatusReply:
		var m StatusReply
		return &m, json.Unmarshal(b, &m)
	case TypeError:
		var m ErrorReply
		return &m, json.Unmarshal(b, &m)
	case TypeEvent:
		var m Event
		return &m, json.Unmarshal(b, &m)
	}
	return nil, fmt.Errorf("ipc: unknown message type %q", head.Type)
}
