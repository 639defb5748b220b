// Package model defines the text-generation collaborator used by the
// post-negotiation coach. The hub only needs single-shot prompt completion;
// provider adapters live in the subpackages.
package model

import (
	"context"
	"fmt"
)

// Request is one prompt for the collaborator.
type Request struct {
	// System primes the collaborator's role.
	System string
	// Prompt is the user-facing content, typically a rendered transcript
	// plus instructions.
	Prompt string
}

// Response is the collaborator's completion.
type Response struct {
	// Text is the raw completion. Callers parse structure out of it and
	// degrade gracefully when parsing fails.
	Text string
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "anthropic", "openai", "mock", ...
}

// Model is the minimal interface the analysis scheduler drives.
type Model interface {
	// Generate produces one completion for the request.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests. Canned
// responses are matched on prompt substrings.
type MockModel struct {
	info      Info
	responses map[string]string
	// Err, when set, is returned by every Generate call.
	Err error
	// Calls counts Generate invocations.
	Calls int
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for a prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.responses[prompt] = response
}

// Generate implements Model.
func (m *MockModel) Generate(_ context.Context, req Request) (*Response, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if resp, ok := m.responses[req.Prompt]; ok {
		return &Response{Text: resp}, nil
	}
	return &Response{Text: fmt.Sprintf("Mock response to: %s", req.Prompt)}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
