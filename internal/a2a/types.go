// ABOUTME: Wire types for the agent-to-agent JSON-RPC protocol (message/send)
// ABOUTME: Envelope, message parts, delivery configuration and the decoded result shapes

package a2a

import (
	"encoding/json"
)

// MethodMessageSend is the only RPC method the client issues.
const MethodMessageSend = "message/send"

// Part kinds and roles used on the wire.
const (
	PartKindText = "text"
	RoleUser     = "user"
	RoleAgent    = "agent"
)

// Task states reported in a task result's status.
const (
	TaskStateCompleted = "completed"
	TaskStateFailed    = "failed"
	KindTask           = "task"
)

// Envelope is a JSON-RPC 2.0 request.
type Envelope struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      string     `json:"id"`
	Method  string     `json:"method"`
	Params  SendParams `json:"params"`
}

// SendParams are the params of a message/send call.
type SendParams struct {
	Message       Message       `json:"message"`
	Configuration Configuration `json:"configuration"`
}

// Message is a single user or agent message made of parts.
type Message struct {
	MessageID string `json:"messageId"`
	Parts     []Part `json:"parts"`
	Role      string `json:"role"`
}

// Part is one piece of message content. Only text parts are produced or read.
type Part struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
}

// Configuration controls how the agent delivers its answer.
type Configuration struct {
	AcceptedOutputModes []string `json:"acceptedOutputModes"`
	HistoryLength       int      `json:"historyLength"`
	Blocking            bool     `json:"blocking"`
	// Timeout is in milliseconds.
	Timeout int64 `json:"timeout"`
}

// Response is a JSON-RPC 2.0 response body.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Result is the decoded result of message/send. Agents answer with a task,
// a bare message, or a plain text field; every field is optional.
type Result struct {
	Kind      string      `json:"kind,omitempty"`
	Status    *TaskStatus `json:"status,omitempty"`
	Artifacts Artifacts   `json:"artifacts,omitempty"`
	Message   *Message    `json:"message,omitempty"`
	Text      *string     `json:"text,omitempty"`
}

// TaskStatus carries the lifecycle state of a task result.
type TaskStatus struct {
	State string `json:"state"`
}

// IsFailedTask reports whether the result is a task whose state is failed.
// This is the only shape the client treats as retryable.
func (r *Result) IsFailedTask() bool {
	return r != nil && r.Kind == KindTask && r.Status != nil && r.Status.State == TaskStateFailed
}

// Artifact is a named output of a task.
type Artifact struct {
	ArtifactID string `json:"artifactId,omitempty"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// Artifacts accepts either a list of artifacts or a single artifact object.
type Artifacts []Artifact

// UnmarshalJSON implements json.Unmarshaler.
func (a *Artifacts) UnmarshalJSON(data []byte) error {
	var list []Artifact
	if err := json.Unmarshal(data, &list); err == nil {
		*a = list
		return nil
	}

	var single Artifact
	if err := json.Unmarshal(data, &single); err != nil {
		// Anything else is not an artifact container; ignore it like an absent field.
		*a = nil
		return nil
	}
	*a = Artifacts{single}
	return nil
}

// newEnvelope builds a message/send request for a single text query.
func newEnvelope(requestID, messageID, text string, cfg Configuration) Envelope {
	return Envelope{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  MethodMessageSend,
		Params: SendParams{
			Message: Message{
				MessageID: messageID,
				Parts:     []Part{{Kind: PartKindText, Text: text}},
				Role:      RoleUser,
			},
			Configuration: cfg,
		},
	}
}
