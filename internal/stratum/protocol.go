// Package stratum builds the Stratum JSON-RPC lines a mining client would
// exchange with a pool. The decoy never opens a pool connection; the
// messages only end up in logs so they look like genuine miner traffic.
package stratum

import (
	"encoding/json"
	"fmt"
)

// Message represents a Stratum JSON-RPC message
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error represents a Stratum error response
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Common Stratum error codes
const (
	ErrorOther          = 20
	ErrorJobNotFound    = 21
	ErrorDuplicateShare = 22
	ErrorLowDifficulty  = 23
	ErrorUnauthorized   = 24
	ErrorNotSubscribed  = 25
)

// Method names sent by clients
const (
	MethodSubscribe = "mining.subscribe"
	MethodAuthorize = "mining.authorize"
	MethodSubmit    = "mining.submit"
	MethodNotify    = "mining.notify"
)

// SubmitRequest represents a mining.submit request
type SubmitRequest struct {
	Username    string
	JobID       string
	ExtraNonce2 string
	NTime       string
	Nonce       string
}

// ParseMessage parses a JSON-RPC message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// MarshalMessage marshals a message to JSON bytes
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// NewRequest creates a new request message
func NewRequest(id any, method string, params []any) *Message {
	return &Message{
		ID:     id,
		Method: method,
		Params: params,
	}
}

// NewResponse creates a new response message
func NewResponse(id any, result any) *Message {
	return &Message{
		ID:     id,
		Result: result,
	}
}

// NewErrorResponse creates a new error response message
func NewErrorResponse(id any, code int, message string) *Message {
	return &Message{
		ID: id,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	}
}

// NewSubscribe creates the mining.subscribe handshake
func NewSubscribe(id uint64, userAgent string) *Message {
	return NewRequest(id, MethodSubscribe, []any{userAgent})
}

// NewAuthorize creates a mining.authorize request
func NewAuthorize(id uint64, username, password string) *Message {
	return NewRequest(id, MethodAuthorize, []any{username, password})
}

// NewSubmit creates a mining.submit request. ntime and nonce are sent as
// 8 hex digits like every Stratum v1 client does.
func NewSubmit(id uint64, username, jobID, extraNonce2 string, ntime, nonce uint32) *Message {
	return NewRequest(id, MethodSubmit, []any{
		username,
		jobID,
		extraNonce2,
		fmt.Sprintf("%08x", ntime),
		fmt.Sprintf("%08x", nonce),
	})
}

// ShareResponse is the pool's verdict on a submitted share
func ShareResponse(id uint64, accepted bool) *Message {
	if accepted {
		return NewResponse(id, true)
	}
	return NewErrorResponse(id, ErrorLowDifficulty, "Low difficulty share")
}

// IsRequest returns true if the message is a request
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.ID != nil
}

// IsResponse returns true if the message is a response
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.ID != nil && (m.Result != nil || m.Error != nil)
}

// String renders the message as its wire line; marshal failures render empty
func (m *Message) String() string {
	data, err := MarshalMessage(m)
	if err != nil {
		return ""
	}
	return string(data)
}

// ParseSubmitRequest parses mining.submit parameters
func ParseSubmitRequest(params []any) (*SubmitRequest, error) {
	if len(params) < 5 {
		return nil, fmt.Errorf("insufficient parameters")
	}

	fields := make([]string, 5)
	names := []string{"username", "job_id", "extranonce2", "ntime", "nonce"}
	for i, name := range names {
		s, ok := params[i].(string)
		if !ok {
			return nil, fmt.Errorf("%s must be string", name)
		}
		fields[i] = s
	}

	return &SubmitRequest{
		Username:    fields[0],
		JobID:       fields[1],
		ExtraNonce2: fields[2],
		NTime:       fields[3],
		Nonce:       fields[4],
	}, nil
}
