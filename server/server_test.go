package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeUnit7/Isiziba/auth"
	"github.com/CodeUnit7/Isiziba/config"
	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/hub"
	"github.com/CodeUnit7/Isiziba/negotiation"
	"github.com/CodeUnit7/Isiziba/reputation"
	"github.com/CodeUnit7/Isiziba/store"
)

type testEnv struct {
	server *httptest.Server
	store  *store.InMemoryStore
	hub    *hub.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.RegistrationToken = "let-me-in"

	s := store.NewInMemoryStore()
	authSvc := auth.New(s, func(o *auth.Options) {
		o.RegistrationToken = cfg.RegistrationToken
	})
	h := hub.New()
	engine := negotiation.New(s, s, s, h, nil, reputation.New(s), nil, func(o *negotiation.Options) {
		o.MaxSteps = cfg.MaxSteps
	})
	srv := httptest.NewServer(New(authSvc, s, engine, h, cfg))
	t.Cleanup(srv.Close)
	t.Cleanup(h.Shutdown)
	return &testEnv{server: srv, store: s, hub: h}
}

func (e *testEnv) post(t *testing.T, path, apiKey string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil
	}
	return out
}

func (e *testEnv) register(t *testing.T, agentType, name string) (agentID, apiKey string) {
	t.Helper()
	resp, body := e.post(t, "/agents/register", "", map[string]any{
		"type":               agentType,
		"name":               name,
		"registration_token": "let-me-in",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body["agent_id"].(string), body["api_key"].(string)
}

func TestRegisterEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/agents/register", "", map[string]any{
		"type": "buyer", "name": "alpha",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "missing token refused")

	agentID, apiKey := env.register(t, "buyer", "alpha")
	assert.True(t, strings.HasPrefix(agentID, "ext-buyer-"))
	assert.True(t, strings.HasPrefix(apiKey, "sk-"))

	// Re-registration restores the same identity.
	resp, body := env.post(t, "/agents/register", "", map[string]any{
		"type": "buyer", "name": "alpha", "registration_token": "let-me-in",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Restored", body["status"])
	assert.Equal(t, agentID, body["agent_id"])
}

func TestAgentsListHidesCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "buyer", "alpha")

	resp, err := http.Get(env.server.URL + "/agents")
	require.NoError(t, err)
	defer resp.Body.Close()
	var agents []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agents))
	require.Len(t, agents, 1)
	key, present := agents[0]["api_key"]
	assert.True(t, !present || key == "")
}

func TestPostRequest_RoleEnforcement(t *testing.T) {
	env := newTestEnv(t)
	_, buyerKey := env.register(t, "buyer", "alpha")
	_, sellerKey := env.register(t, "seller", "omega")

	resp, _ := env.post(t, "/market/requests", sellerKey, map[string]any{
		"item": "widgets", "max_budget": 100,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := env.post(t, "/market/requests", buyerKey, map[string]any{
		"item": "widgets", "max_budget": 100,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Published", body["status"])

	resp, _ = env.post(t, "/market/requests", "", map[string]any{
		"item": "widgets", "max_budget": 100,
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOfferAndNegotiateFlow(t *testing.T) {
	env := newTestEnv(t)
	buyerID, buyerKey := env.register(t, "buyer", "alpha")
	sellerID, sellerKey := env.register(t, "seller", "omega")

	// Seller lists widgets at 100.
	resp, body := env.post(t, "/market/offers", sellerKey, map[string]any{
		"product": "widgets", "price": 100, "buyer_id": buyerID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	offerID := body["offer_id"].(string)

	// Buyer counters at 80.
	resp, body = env.post(t, "/market/negotiate", buyerKey, map[string]any{
		"action": "COUNTER", "price": 80, "offer_id": offerID, "receiver_id": sellerID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payload := body["payload"].(map[string]any)
	negID := payload["negotiation_id"].(string)
	require.NotEmpty(t, negID)

	// Seller accepts an invented price: refused with the machine reason.
	resp, body = env.post(t, "/market/negotiate", sellerKey, map[string]any{
		"action": "ACCEPT", "price": 85, "offer_id": offerID,
		"receiver_id": buyerID, "negotiation_id": negID,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, core.ReasonPriceMismatch, body["reason"])

	// Seller accepts the buyer's actual 80.
	resp, _ = env.post(t, "/market/negotiate", sellerKey, map[string]any{
		"action": "ACCEPT", "price": 80, "offer_id": offerID,
		"receiver_id": buyerID, "negotiation_id": negID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The deal shows up in trends.
	resp, body = env.get(t, "/market/trends")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	trends := body["trends"].([]any)
	require.Len(t, trends, 1)
	point := trends[0].(map[string]any)
	assert.Equal(t, 80.0, point["price"])
	assert.Equal(t, buyerID, point["buyer_id"])
	assert.Equal(t, sellerID, point["seller_id"])
}

func TestActiveAndFeedEndpoints(t *testing.T) {
	env := newTestEnv(t)
	_, sellerKey := env.register(t, "seller", "omega")

	resp, _ := env.post(t, "/market/offers", sellerKey, map[string]any{
		"product": "widgets", "price": 42,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.get(t, "/market/active")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["items"].([]any), 1)

	resp, body = env.get(t, "/market/feed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["feed"].([]any), 1)
}

func TestFeedbackEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.post(t, "/feedback/submit", "", map[string]any{
		"negotiation_id": "neg-1", "rating": 9,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "rating out of range")

	resp, body := env.post(t, "/feedback/submit", "", map[string]any{
		"negotiation_id": "neg-1", "rating": 4, "comment": "smooth deal",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Feedback Received", body["status"])

	resp, body = env.get(t, "/feedback/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := body["feedback"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "User", entry["source"])
	assert.Equal(t, 4.0, entry["rating"])
}

func TestReputationHistoryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	agentID, _ := env.register(t, "buyer", "alpha")

	resp, body := env.get(t, "/agents/"+agentID+"/reputation/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["history"])
}

func TestWebSocketIdentifyAndBroadcast(t *testing.T) {
	env := newTestEnv(t)
	agentID, apiKey := env.register(t, "buyer", "alpha")

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/market"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "identify", "agent_id": agentID, "api_key": apiKey,
	}))

	// Identification is async; wait until the hub maps the agent.
	require.Eventually(t, func() bool {
		return env.hub.Stats().Agents == 1
	}, time.Second, 10*time.Millisecond)

	env.hub.Broadcast(core.NewMarketEvent(map[string]string{"hello": "world"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, core.MessageTypeMarketEvent, msg["type"])
}

func TestWebSocketIdentifyRejectsBadCredential(t *testing.T) {
	env := newTestEnv(t)
	agentID, _ := env.register(t, "buyer", "alpha")

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/market"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{
		"type": "identify", "agent_id": agentID, "api_key": "sk-wrong",
	}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, env.hub.Stats().Agents)
}

func TestStatusHeartbeat(t *testing.T) {
	env := newTestEnv(t)
	_, apiKey := env.register(t, "seller", "omega")

	// The periodic liveness post agents use as their heartbeat.
	resp, body := env.post(t, "/agents/status", apiKey, map[string]string{
		"status": "active", "activity": "SELLING",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "updated", body["status"])

	// A heartbeat without a credential is refused, which clients count
	// toward their consecutive-failure ceiling.
	resp, _ = env.post(t, "/agents/status", "", map[string]string{"status": "active"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDebugConnections(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/debug/connections")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.0, body["active_count"])
}
