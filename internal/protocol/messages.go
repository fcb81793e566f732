package protocol

import (
	"encoding/json"
	"strings"
)

// Error codes for protocol-level error replies.
const (
	CodeBadJSON             = "bad_json"
	CodeBadVersion          = "bad_version"
	CodeUnknownType         = "unknown_type"
	CodeUnknownCommand      = "unknown_command"
	CodeSingleClientOnly    = "SINGLE_CLIENT_ONLY"
	CodeExecutiveDown       = "executive_unavailable"
	CodeInvalidMessage      = "invalid_message"
	CodeBinaryFrameRequired = "binary_frame_required"
)

// Event severities.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// ValidationError is a structured rejection of one inbound message. It is
// never raised past the handler; it becomes an error reply.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Code + ": " + e.Message }

// Hello is the optional first text message from a producer.
type Hello struct {
	Type      string `json:"type"`
	V         int    `json:"v"`
	Client    string `json:"client"`
	SessionID string `json:"session_id,omitempty"`
}

// Command is a named producer command.
type Command struct {
	Type string `json:"type"`
	V    int    `json:"v"`
	Name string `json:"name"`
}

// Chat asks the executive for a text response.
type Chat struct {
	Type      string `json:"type"`
	V         int    `json:"v"`
	RequestID string `json:"request_id"`
	Text      string `json:"text"`
}

// MotionInfo is the optional motion block on a frame receipt.
type MotionInfo struct {
	MAD       float64 `json:"mad"`
	Triggered bool    `json:"triggered"`
}

// FrameReceived acknowledges ingress of one frame, independent of any
// downstream result.
type FrameReceived struct {
	Type       string      `json:"type"`
	V          int         `json:"v"`
	FrameID    string      `json:"frame_id"`
	TSMS       int64       `json:"ts_ms"`
	Accepted   bool        `json:"accepted"`
	QueueDepth int         `json:"queue_depth"`
	Dropped    int         `json:"dropped"`
	Motion     *MotionInfo `json:"motion,omitempty"`
}

// Event is one named derived event.
type Event struct {
	Name     string         `json:"name"`
	TSMS     int64          `json:"ts_ms"`
	Severity string         `json:"severity"`
	Data     map[string]any `json:"data,omitempty"`
}

// FrameEvents carries events derived from one frame.
type FrameEvents struct {
	Type    string  `json:"type"`
	V       int     `json:"v"`
	FrameID string  `json:"frame_id"`
	TSMS    int64   `json:"ts_ms"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Events  []Event `json:"events"`
}

// InsightSummary is the narrative block of an insight.
type InsightSummary struct {
	OneLiner    string   `json:"one_liner"`
	TTSResponse string   `json:"tts_response"`
	WhatChanged []string `json:"what_changed,omitempty"`
	Severity    string   `json:"severity"`
	Tags        []string `json:"tags,omitempty"`
}

// Insight is an asynchronous clip-level finding from the vision service.
type Insight struct {
	Type           string         `json:"type"`
	V              int            `json:"v"`
	ClipID         string         `json:"clip_id"`
	TriggerFrameID string         `json:"trigger_frame_id,omitempty"`
	TSMS           int64          `json:"ts_ms"`
	Summary        InsightSummary `json:"summary"`
	Usage          map[string]any `json:"usage,omitempty"`
}

// TextOutput is a text reply or spoken-utterance payload for the producer.
type TextOutput struct {
	Type      string         `json:"type"`
	V         int            `json:"v"`
	RequestID string         `json:"request_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	TSMS      int64          `json:"ts_ms"`
	Text      string         `json:"text"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ErrorMessage is a typed protocol error reply.
type ErrorMessage struct {
	Type    string `json:"type"`
	V       int    `json:"v"`
	Code    string `json:"code"`
	Message string `json:"message"`
	FrameID string `json:"frame_id,omitempty"`
}

// NewError builds an error reply.
func NewError(code, message, frameID string) ErrorMessage {
	return ErrorMessage{Type: "error", V: Version, Code: code, Message: message, FrameID: frameID}
}

// MessageType peeks at the type field of a JSON message.
func MessageType(data []byte) (string, bool) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return "", false
	}
	return env.Type, true
}

// Unknown fields are tolerated on every parse below; only missing required
// fields or a version mismatch reject a message.

// ParseHello validates a hello message.
func ParseHello(data []byte) (Hello, *ValidationError) {
	var m Hello
	if err := json.Unmarshal(data, &m); err != nil {
		return Hello{}, &ValidationError{Code: CodeBadJSON, Message: err.Error()}
	}
	if m.V != Version {
		return Hello{}, &ValidationError{Code: CodeBadVersion, Message: "unsupported protocol version"}
	}
	return m, nil
}

// ParseCommand validates a command message.
func ParseCommand(data []byte) (Command, *ValidationError) {
	var m Command
	if err := json.Unmarshal(data, &m); err != nil {
		return Command{}, &ValidationError{Code: CodeBadJSON, Message: err.Error()}
	}
	if m.V != Version {
		return Command{}, &ValidationError{Code: CodeBadVersion, Message: "unsupported protocol version"}
	}
	if strings.TrimSpace(m.Name) == "" {
		return Command{}, &ValidationError{Code: CodeInvalidMessage, Message: "command requires a name"}
	}
	return m, nil
}

// ParseChat validates a chat message.
func ParseChat(data []byte) (Chat, *ValidationError) {
	var m Chat
	if err := json.Unmarshal(data, &m); err != nil {
		return Chat{}, &ValidationError{Code: CodeBadJSON, Message: err.Error()}
	}
	if m.V != Version {
		return Chat{}, &ValidationError{Code: CodeBadVersion, Message: "unsupported protocol version"}
	}
	if m.RequestID == "" || strings.TrimSpace(m.Text) == "" {
		return Chat{}, &ValidationError{Code: CodeInvalidMessage, Message: "chat requires request_id and text"}
	}
	return m, nil
}

// ParseFrameEvents validates a frame_events message from the vision service.
func ParseFrameEvents(data []byte) (FrameEvents, *ValidationError) {
	var m FrameEvents
	if err := json.Unmarshal(data, &m); err != nil {
		return FrameEvents{}, &ValidationError{Code: CodeBadJSON, Message: err.Error()}
	}
	if m.FrameID == "" {
		return FrameEvents{}, &ValidationError{Code: CodeInvalidMessage, Message: "frame_events requires frame_id"}
	}
	for _, ev := range m.Events {
		if ev.Name == "" {
			return FrameEvents{}, &ValidationError{Code: CodeInvalidMessage, Message: "event requires a name"}
		}
		switch ev.Severity {
		case SeverityLow, SeverityMedium, SeverityHigh:
		default:
			return FrameEvents{}, &ValidationError{Code: CodeInvalidMessage, Message: "unknown event severity"}
		}
	}
	return m, nil
}

// ParseInsight validates an insight message from the vision service.
func ParseInsight(data []byte) (Insight, *ValidationError) {
	var m Insight
	if err := json.Unmarshal(data, &m); err != nil {
		return Insight{}, &ValidationError{Code: CodeBadJSON, Message: err.Error()}
	}
	if m.ClipID == "" {
		return Insight{}, &ValidationError{Code: CodeInvalidMessage, Message: "insight requires clip_id"}
	}
	return m, nil
}
