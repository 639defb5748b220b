// Package analysis runs the post-negotiation critique. Each concluded
// negotiation gets exactly one deferred, best-effort coach task: it renders
// the proposal log as a transcript, asks the text-generation collaborator for
// a structured critique, persists the report and delivers it privately to
// both agents and publicly to observers. Failures are isolated and surfaced
// as an analysis_error broadcast; negotiation state is never touched.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/logging"
	"github.com/CodeUnit7/Isiziba/model"
)

// DefaultSettleDelay gives the transaction write time to become visible
// before the critique reads it.
const DefaultSettleDelay = 2 * time.Second

const systemPrompt = "You are a neutral 'Marketplace Coach'. " +
	"Analyze negotiation transcripts between a Buyer and a Seller."

const promptTemplate = `Analyze the following negotiation transcript between a Buyer and a Seller.

Transcript:
%s

Goals:
- Identify if the Buyer overpaid or if the Seller left money on the table.
- Critique their negotiation tactics (e.g. anchoring, mirroring, concessions).
- Provide one specific improvement tip for EACH agent.

Output strict JSON:
{
  "buyer_feedback": "Short critique for the buyer",
  "seller_feedback": "Short critique for the seller",
  "strategy_score": 1-10
}`

// Notifier is the slice of the connection hub the coach needs.
type Notifier interface {
	Broadcast(msg any) int
	SendToAgent(agentID string, msg any) bool
}

// Options configures the Coach.
type Options struct {
	// SettleDelay is slept before reading the negotiation history.
	SettleDelay time.Duration

	// Logger receives structured coach events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Coach schedules and runs negotiation critiques.
type Coach struct {
	model    model.Model
	log      core.NegotiationLog
	txs      core.TransactionStore
	feedback core.FeedbackStore
	notifier Notifier
	opts     Options
}

// New creates a Coach. A nil model disables analysis: Schedule becomes a
// no-op so the protocol path needs no special casing.
func New(m model.Model, log core.NegotiationLog, txs core.TransactionStore, feedback core.FeedbackStore, notifier Notifier, optFns ...func(o *Options)) *Coach {
	opts := Options{SettleDelay: DefaultSettleDelay, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Coach{model: m, log: log, txs: txs, feedback: feedback, notifier: notifier, opts: opts}
}

// Schedule fires the analysis task for a concluded negotiation. Fire and
// forget: no cancellation contract, no retry. The engine never waits for it.
func (c *Coach) Schedule(negotiationID string, involvedAgents []string) {
	if c.model == nil {
		c.opts.Logger.Warn("analysis skipped, no model configured", "negotiation_id", negotiationID)
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.opts.Logger.Error("analysis panicked", "negotiation_id", negotiationID, "panic", fmt.Sprint(r))
				c.broadcastError(negotiationID)
			}
		}()
		if c.opts.SettleDelay > 0 {
			time.Sleep(c.opts.SettleDelay)
		}
		if err := c.Analyze(context.Background(), negotiationID, involvedAgents); err != nil {
			c.opts.Logger.Error("analysis failed", "negotiation_id", negotiationID, "error", err)
			c.broadcastError(negotiationID)
		}
	}()
}

// Analyze runs one critique synchronously. Exposed for tests; production
// flows go through Schedule.
func (c *Coach) Analyze(ctx context.Context, negotiationID string, involvedAgents []string) error {
	events, err := c.log.Proposals(ctx, negotiationID)
	if err != nil {
		return fmt.Errorf("fetch history: %w", err)
	}
	if len(events) == 0 {
		return fmt.Errorf("no history for negotiation %s", negotiationID)
	}
	core.SortProposals(events)

	transcript := RenderTranscript(events)
	start := time.Now()
	resp, err := c.model.Generate(ctx, model.Request{
		System: systemPrompt,
		Prompt: fmt.Sprintf(promptTemplate, transcript),
	})
	if err != nil {
		c.opts.Logger.Error("coach model call failed", "negotiation_id", negotiationID, "duration", time.Since(start), "error", err)
		return fmt.Errorf("generate critique: %w", err)
	}
	c.opts.Logger.Info("coach model call completed", "negotiation_id", negotiationID, "duration", time.Since(start))

	critique, ok := ParseCritique(resp.Text)
	if !ok {
		c.opts.Logger.Warn("critique parse failed, using neutral placeholder", "negotiation_id", negotiationID)
	}

	report := core.FeedbackReport{
		NegotiationID:  negotiationID,
		InvolvedAgents: involvedAgents,
		Feedback:       critique,
		Timestamp:      time.Now().UTC(),
	}
	if tx, err := c.txs.TransactionByNegotiation(ctx, negotiationID); err != nil {
		c.opts.Logger.Warn("failed to fetch transaction details", "negotiation_id", negotiationID, "error", err)
	} else if tx != nil {
		report.Product = tx.Product
		report.Price = tx.Amount
		report.TransactionID = tx.ID
	}

	if err := c.feedback.PutReport(ctx, report); err != nil {
		c.opts.Logger.Warn("failed to persist feedback report", "negotiation_id", negotiationID, "error", err)
	}

	// Hybrid delivery: private signal to each involved agent, public
	// signal for observer dashboards.
	msg := core.NewFeedbackReportMessage(report)
	for _, agentID := range involvedAgents {
		c.notifier.SendToAgent(agentID, msg)
	}
	c.notifier.Broadcast(msg)
	c.opts.Logger.Info("feedback delivered", "negotiation_id", negotiationID, "agents", involvedAgents)
	return nil
}

func (c *Coach) broadcastError(negotiationID string) {
	c.notifier.Broadcast(core.AnalysisError{
		Type:          core.MessageTypeAnalysisError,
		NegotiationID: negotiationID,
		Error:         "Negotiation analysis encountered an internal error.",
	})
}

// RenderTranscript flattens an ordered proposal log into a readable
// buyer/seller dialog for the prompt.
func RenderTranscript(events []core.ProposalEvent) string {
	var sb strings.Builder
	for i, ev := range events {
		if i > 0 {
			sb.WriteByte('\n')
		}
		role := "Seller"
		if strings.Contains(ev.SenderID, string(core.AgentTypeBuyer)) {
			role = "Buyer"
		}
		fmt.Fprintf(&sb, "%s: %s $%.2f - reasoning: %s", role, ev.Action, ev.Price, ev.Reasoning)
	}
	return sb.String()
}

// ParseCritique extracts the structured critique from a completion, tolerant
// of markdown code fences. Returns the neutral placeholder and false when the
// payload cannot be parsed.
func ParseCritique(text string) (core.Critique, bool) {
	clean := strings.TrimSpace(text)
	clean = strings.ReplaceAll(clean, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")
	clean = strings.TrimSpace(clean)

	var critique core.Critique
	if err := json.Unmarshal([]byte(clean), &critique); err != nil {
		return core.NeutralCritique(), false
	}
	return critique, true
}
