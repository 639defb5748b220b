package server

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/CodeUnit7/Isiziba/auth"
	"github.com/CodeUnit7/Isiziba/core"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed registration payload")
		return
	}
	result, err := s.auth.Register(r.Context(), req)
	if err != nil {
		var denied *core.AuthorizationError
		if errors.As(err, &denied) {
			writeError(w, http.StatusForbidden, "Invalid registration token")
			return
		}
		s.writeRefusal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		s.writeRefusal(w, err)
		return
	}
	// Credentials never leave the registry.
	public := make([]core.Agent, len(agents))
	for i, a := range agents {
		a.Credential = ""
		public[i] = a
	}
	writeJSON(w, http.StatusOK, public)
}

func (s *Server) handleReputationHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.ReputationHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeRefusal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": history})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, agent *core.Agent) {
	var req core.AgentStatusUpdate
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed status payload")
		return
	}
	s.hub.Broadcast(core.AgentStatus{
		Type:      core.MessageTypeAgentStatus,
		AgentID:   agent.ID,
		Name:      agent.Name,
		Status:    req.Status,
		Activity:  req.Activity,
		Timestamp: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// marketRequestPayload is a buyer's call for offers.
type marketRequestPayload struct {
	Item      string  `json:"item"`
	MaxBudget float64 `json:"max_budget"`
	Quantity  int     `json:"quantity"`
	Category  string  `json:"category,omitempty"`
}

func (s *Server) handlePostRequest(w http.ResponseWriter, r *http.Request, agent *core.Agent) {
	if agent.Type != core.AgentTypeBuyer {
		writeError(w, http.StatusForbidden, "Only buyers can post requests")
		return
	}
	var req marketRequestPayload
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request payload")
		return
	}
	if req.Item == "" || req.MaxBudget <= 0 {
		writeError(w, http.StatusBadRequest, "item and positive max_budget required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	if req.Category == "" {
		req.Category = s.cfg.DefaultCategory
	}

	now := time.Now().UTC()
	item := core.MarketItem{
		ID:            core.NewOfferID(),
		Kind:          core.ItemKindRequest,
		Product:       req.Item,
		Price:         req.MaxBudget,
		Quantity:      req.Quantity,
		Category:      req.Category,
		SenderID:      agent.ID,
		CounterpartID: core.BroadcastAudience,
		AgentName:     agent.Name,
		Status:        core.ItemStatusOpen,
		CreatedAt:     now,
		ValidUntil:    now.Add(s.cfg.OfferTTL),
	}
	if err := s.store.PutItem(r.Context(), item); err != nil {
		s.opts.Logger.Error("failed to persist market request", "agent_id", agent.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to publish market request")
		return
	}
	s.publish(r, s.cfg.DiscoveryTopic, item)
	// Requests are not carried by the store change feed; fan out directly.
	s.hub.Broadcast(core.NewMarketEvent(item))
	writeJSON(w, http.StatusOK, map[string]any{"status": "Published", "payload": item})
}

// marketOfferPayload is a seller's listing, optionally targeted at a buyer.
type marketOfferPayload struct {
	BuyerID  string  `json:"buyer_id"`
	Product  string  `json:"product"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
	Category string  `json:"category,omitempty"`
	Currency string  `json:"currency,omitempty"`
}

func (s *Server) handlePostOffer(w http.ResponseWriter, r *http.Request, agent *core.Agent) {
	if agent.Type != core.AgentTypeSeller {
		writeError(w, http.StatusForbidden, "Only sellers can post offers")
		return
	}
	var req marketOfferPayload
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed offer payload")
		return
	}
	if req.Product == "" || req.Price <= 0 {
		writeError(w, http.StatusBadRequest, "product and positive price required")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	if req.Category == "" {
		req.Category = s.cfg.DefaultCategory
	}
	if req.Currency == "" {
		req.Currency = s.cfg.Currency
	}
	counterpart := req.BuyerID
	if counterpart == "" {
		counterpart = core.BroadcastAudience
	}

	now := time.Now().UTC()
	offer := core.MarketItem{
		ID:            core.NewOfferID(),
		Kind:          core.ItemKindOffer,
		Product:       req.Product,
		Price:         req.Price,
		Quantity:      req.Quantity,
		Category:      req.Category,
		Currency:      req.Currency,
		SenderID:      agent.ID,
		CounterpartID: counterpart,
		AgentName:     agent.Name,
		Status:        core.ItemStatusOpen,
		CreatedAt:     now,
		ValidUntil:    now.Add(s.cfg.OfferValidity),
	}
	if err := s.store.PutItem(r.Context(), offer); err != nil {
		s.opts.Logger.Error("failed to persist offer", "agent_id", agent.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create offer")
		return
	}
	s.publish(r, s.cfg.DiscoveryTopic, offer)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "Offer Created",
		"offer_id": offer.ID,
		"data":     offer,
	})
}

// negotiateRequest is one bargaining move.
type negotiateRequest struct {
	NegotiationID string  `json:"negotiation_id,omitempty"`
	Action        string  `json:"action"`
	Price         float64 `json:"price"`
	Quantity      int     `json:"quantity"`
	OfferID       string  `json:"offer_id"`
	ReceiverID    string  `json:"receiver_id"`
	Reasoning     string  `json:"reasoning,omitempty"`
}

func (s *Server) handleNegotiate(w http.ResponseWriter, r *http.Request, agent *core.Agent) {
	var req negotiateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed negotiation payload")
		return
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	ev, err := s.engine.Propose(r.Context(), *agent, core.ProposalEvent{
		NegotiationID: req.NegotiationID,
		OfferID:       req.OfferID,
		ReceiverID:    req.ReceiverID,
		Action:        core.Action(req.Action),
		Price:         req.Price,
		Quantity:      req.Quantity,
		Reasoning:     req.Reasoning,
	})
	if err != nil {
		s.writeRefusal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "Action Sent", "payload": ev})
}

func (s *Server) handleActiveItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ActiveItems(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch active items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	offers, err := s.store.LatestOffers(r.Context(), limitParam(r, 20, 200))
	if err != nil {
		s.writeRefusal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feed": offers})
}

func (s *Server) handleNegotiations(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.LatestProposals(r.Context(), limitParam(r, 20, 200))
	if err != nil {
		s.writeRefusal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"negotiations": events})
}

// trendPoint is one transaction flattened for price charting.
type trendPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	Price       float64   `json:"price"`
	Product     string    `json:"product"`
	Explanation string    `json:"explanation"`
	TxID        string    `json:"tx_id"`
	BuyerID     string    `json:"buyer_id"`
	SellerID    string    `json:"seller_id"`
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	txs, err := s.store.LatestTransactions(r.Context(), limitParam(r, 500, 1000))
	if err != nil {
		s.writeRefusal(w, err)
		return
	}
	trends := make([]trendPoint, 0, len(txs))
	for _, tx := range txs {
		explanation := tx.Reasoning
		if explanation == "" {
			explanation = "Market transaction finalized."
		}
		trends = append(trends, trendPoint{
			Timestamp:   tx.Timestamp,
			Price:       tx.Amount,
			Product:     tx.Product,
			Explanation: explanation,
			TxID:        tx.ID,
			BuyerID:     tx.BuyerID,
			SellerID:    tx.SellerID,
		})
	}
	// Charting wants ascending time; the store returns newest first.
	sort.Slice(trends, func(i, j int) bool { return trends[i].Timestamp.Before(trends[j].Timestamp) })
	writeJSON(w, http.StatusOK, map[string]any{"trends": trends})
}

// userFeedbackRequest is a human rating for a concluded negotiation.
type userFeedbackRequest struct {
	NegotiationID string `json:"negotiation_id"`
	Rating        int    `json:"rating"`
	Comment       string `json:"comment,omitempty"`
	UserID        string `json:"user_id,omitempty"`
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req userFeedbackRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed feedback payload")
		return
	}
	if req.NegotiationID == "" || req.Rating < 1 || req.Rating > 5 {
		writeError(w, http.StatusBadRequest, "negotiation_id and rating 1-5 required")
		return
	}
	if req.UserID == "" {
		req.UserID = "browser-user"
	}
	fb := core.UserFeedback{
		NegotiationID: req.NegotiationID,
		Rating:        req.Rating,
		Comment:       req.Comment,
		UserID:        req.UserID,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.store.PutUserFeedback(r.Context(), fb); err != nil {
		s.opts.Logger.Warn("feedback submission failed", "negotiation_id", fb.NegotiationID, "error", err)
		writeError(w, http.StatusInternalServerError, "Feedback submission failed")
		return
	}
	s.opts.Logger.Info("user feedback received",
		"negotiation_id", fb.NegotiationID, "rating", fb.Rating)
	s.hub.Broadcast(core.UserFeedbackMessage{Type: core.MessageTypeUserFeedback, Data: fb})
	writeJSON(w, http.StatusOK, map[string]any{"status": "Feedback Received", "data": fb})
}

// feedbackEntry tags a history row with its source before the merged sort.
type feedbackEntry struct {
	Source        string         `json:"source"`
	NegotiationID string         `json:"negotiation_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Report        *core.Critique `json:"feedback,omitempty"`
	Rating        int            `json:"rating,omitempty"`
	Comment       string         `json:"comment,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Product       string         `json:"product,omitempty"`
	Price         float64        `json:"price,omitempty"`
}

func (s *Server) handleFeedbackHistory(w http.ResponseWriter, r *http.Request) {
	limit := limitParam(r, 20, 100)
	reports, err := s.store.LatestReports(r.Context(), limit)
	if err != nil {
		s.writeRefusal(w, err)
		return
	}
	ratings, err := s.store.LatestUserFeedback(r.Context(), limit)
	if err != nil {
		s.writeRefusal(w, err)
		return
	}

	merged := make([]feedbackEntry, 0, len(reports)+len(ratings))
	for _, rep := range reports {
		critique := rep.Feedback
		merged = append(merged, feedbackEntry{
			Source:        "Market Coach",
			NegotiationID: rep.NegotiationID,
			Timestamp:     rep.Timestamp,
			Report:        &critique,
			Product:       rep.Product,
			Price:         rep.Price,
		})
	}
	for _, fb := range ratings {
		merged = append(merged, feedbackEntry{
			Source:        "User",
			NegotiationID: fb.NegotiationID,
			Timestamp:     fb.Timestamp,
			Rating:        fb.Rating,
			Comment:       fb.Comment,
			UserID:        fb.UserID,
		})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp.After(merged[j].Timestamp) })
	if len(merged) > limit {
		merged = merged[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": merged})
}

func (s *Server) handleDebugConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

// publish mirrors an item to the external feed, best effort. The websocket
// broadcast already ran off the store's change feed.
func (s *Server) publish(r *http.Request, topic string, event any) {
	if s.opts.Publisher == nil || topic == "" {
		return
	}
	if err := s.opts.Publisher.Publish(r.Context(), topic, event); err != nil {
		s.opts.Logger.Warn("discovery publish failed", "topic", topic, "error", err)
	}
}
