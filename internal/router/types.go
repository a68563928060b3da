// Package router sends prompts to AI endpoints in priority order.
package router

import (
	"context"
	"fmt"
)

// Message is one prompt entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a single completion attempt. An empty Model means the backend
// picks its own.
type Request struct {
	Model     string
	Messages  []Message
	MaxTokens int
}

// Backend performs one completion attempt against one endpoint.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req *Request) (string, error)
}

// ErrorKind classifies endpoint failures.
type ErrorKind int

const (
	ErrorUnknown   ErrorKind = iota
	ErrorNetwork             // connection refused, DNS, reset
	ErrorTimeout             // per-attempt deadline exceeded
	ErrorStatus              // non-success HTTP status
	ErrorMalformed           // body is not a completion
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNetwork:
		return "network"
	case ErrorTimeout:
		return "timeout"
	case ErrorStatus:
		return "status"
	case ErrorMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// EndpointError describes one failed attempt.
type EndpointError struct {
	Endpoint string
	Attempt  int
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *EndpointError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("endpoint %s attempt %d: %s %d: %v", e.Endpoint, e.Attempt, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("endpoint %s attempt %d: %s: %v", e.Endpoint, e.Attempt, e.Kind, e.Err)
}

func (e *EndpointError) Unwrap() error {
	return e.Err
}
