package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire message type tags. Server-pushed events carry exactly one of these in
// their "type" field; clients decode on it.
const (
	MessageTypeMarketEvent           = "market_event"
	MessageTypeAgentStatus           = "agent_status"
	MessageTypeNegotiationConcluded  = "negotiation_concluded"
	MessageTypeNegotiationTerminated = "negotiation_terminated"
	MessageTypeFeedbackReport        = "feedback_report"
	MessageTypeAnalysisError         = "analysis_error"
	MessageTypeUserFeedback          = "user_feedback_received"

	// Client-initiated control messages on the real-time channel.
	MessageTypeIdentify     = "identify"
	MessageTypeIdentifyView = "identify_view"
)

// Message is implemented by every server-pushed wire variant. The closed set
// of variants replaces loosely-shaped payload maps: each is decoded or encoded
// exactly once at the boundary.
type Message interface {
	MessageType() string
}

// MarketEvent wraps any observed market change (offer, request, proposal or
// transaction) for fan-out. Consumers deduplicate by content id since
// dual-path delivery may surface the same change twice.
type MarketEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NewMarketEvent wraps data as a market_event broadcast.
func NewMarketEvent(data any) MarketEvent {
	return MarketEvent{Type: MessageTypeMarketEvent, Data: data}
}

func (MarketEvent) MessageType() string { return MessageTypeMarketEvent }

// AgentStatus announces an agent's self-reported status to all connections.
type AgentStatus struct {
	Type      string    `json:"type"`
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Activity  string    `json:"activity,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (AgentStatus) MessageType() string { return MessageTypeAgentStatus }

// NegotiationConcluded signals a successful terminal state to both parties.
type NegotiationConcluded struct {
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	NegotiationID string    `json:"negotiation_id"`
	TransactionID string    `json:"transaction_id"`
	Price         float64   `json:"price"`
	Quantity      int       `json:"quantity"`
	Product       string    `json:"product"`
	Timestamp     time.Time `json:"timestamp"`
}

func (NegotiationConcluded) MessageType() string { return MessageTypeNegotiationConcluded }

// NegotiationTerminated signals a failed terminal state (rejection or step
// limit) to both parties. Reason is human-readable; machine checks use the
// refusal returned on the request path.
type NegotiationTerminated struct {
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	NegotiationID string    `json:"negotiation_id"`
	Reason        string    `json:"reason"`
	Timestamp     time.Time `json:"timestamp"`
}

func (NegotiationTerminated) MessageType() string { return MessageTypeNegotiationTerminated }

// FeedbackReportMessage delivers a coach report over the real-time channel.
type FeedbackReportMessage struct {
	Type string `json:"type"`
	FeedbackReport
}

// NewFeedbackReportMessage wraps a report for wire delivery.
func NewFeedbackReportMessage(r FeedbackReport) FeedbackReportMessage {
	return FeedbackReportMessage{Type: MessageTypeFeedbackReport, FeedbackReport: r}
}

func (FeedbackReportMessage) MessageType() string { return MessageTypeFeedbackReport }

// AnalysisError replaces a feedback report when the analysis task failed.
// Purely observational; negotiation state is unaffected.
type AnalysisError struct {
	Type          string `json:"type"`
	NegotiationID string `json:"negotiation_id"`
	Error         string `json:"error"`
}

func (AnalysisError) MessageType() string { return MessageTypeAnalysisError }

// UserFeedbackMessage rebroadcasts a submitted human rating to observers.
type UserFeedbackMessage struct {
	Type string       `json:"type"`
	Data UserFeedback `json:"data"`
}

func (UserFeedbackMessage) MessageType() string { return MessageTypeUserFeedback }

// ClientMessage is a control message received on the real-time channel. Only
// identification messages are recognized; anything else is ignored by the
// read loop.
type ClientMessage struct {
	Type       string `json:"type"`
	AgentID    string `json:"agent_id,omitempty"`
	Credential string `json:"api_key,omitempty"`
}

// DecodeClientMessage parses an inbound frame into the closed variant set.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed client message: %w", err)
	}
	if msg.Type == "" {
		return ClientMessage{}, fmt.Errorf("client message missing type")
	}
	return msg, nil
}
