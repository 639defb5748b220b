// Package auth establishes agent identity for the marketplace hub. It wraps
// the agent registry with a short-lived credential cache (one registry lookup
// per TTL window instead of one per request) and implements idempotent
// registration: re-registering the same (name, type) pair returns the
// existing identity.
//
// The cache accepts bounded staleness: a rotated or revoked credential stays
// valid for up to one TTL window. Registry failures fail closed and are
// reported distinctly from unknown credentials.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/logging"
)

// DefaultCacheTTL bounds credential cache staleness.
const DefaultCacheTTL = 5 * time.Minute

// BaselineReputation is the score assigned to newly registered agents.
const BaselineReputation = 50.0

// Options configures the auth Service.
type Options struct {
	// CacheTTL bounds how long a credential lookup is served from cache.
	CacheTTL time.Duration

	// RegistrationToken gates registration when non-empty.
	RegistrationToken string

	// DefaultCategory is assigned to registrations that omit one.
	DefaultCategory string

	// Logger receives structured auth events. Defaults to NoOpLogger.
	Logger logging.Logger

	// Now injects a clock for tests.
	Now func() time.Time
}

type cacheEntry struct {
	agent  core.Agent
	expiry time.Time
}

// Service authorizes credentials against the agent registry and registers
// new agents.
type Service struct {
	registry core.AgentStore
	opts     Options

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New creates an auth Service over the given registry.
func New(registry core.AgentStore, optFns ...func(o *Options)) *Service {
	opts := Options{
		CacheTTL:        DefaultCacheTTL,
		DefaultCategory: "general",
		Logger:          logging.NoOpLogger{},
		Now:             time.Now,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Service{registry: registry, opts: opts, cache: make(map[string]cacheEntry)}
}

// Authorize resolves a credential to its agent record, serving repeat lookups
// from cache within the TTL. Unknown credentials return an
// AuthorizationError wrapping core.ErrUnauthorized; registry failures return
// one wrapping the infra error (fail closed).
func (s *Service) Authorize(ctx context.Context, credential string) (*core.Agent, error) {
	if credential == "" {
		return nil, &core.AuthorizationError{Reason: "missing credential", Err: core.ErrUnauthorized}
	}
	now := s.opts.Now()

	s.mu.Lock()
	if entry, ok := s.cache[credential]; ok {
		if now.Before(entry.expiry) {
			agent := entry.agent
			s.mu.Unlock()
			return &agent, nil
		}
		delete(s.cache, credential)
	}
	s.mu.Unlock()

	agent, err := s.registry.FindAgentByCredential(ctx, credential)
	if errors.Is(err, core.ErrAgentNotFound) {
		return nil, &core.AuthorizationError{Reason: "unknown credential", Err: core.ErrUnauthorized}
	}
	if err != nil {
		s.opts.Logger.Error("credential lookup failed", "error", err)
		return nil, &core.AuthorizationError{Reason: "registry unavailable", Err: err}
	}

	s.mu.Lock()
	s.cache[credential] = cacheEntry{agent: *agent, expiry: now.Add(s.opts.CacheTTL)}
	s.mu.Unlock()
	return agent, nil
}

// VerifyIdentity checks an (agent id, credential) pair against the registry.
// Used by the hub's identify handshake: a loose identify claim is not itself
// authorization.
func (s *Service) VerifyIdentity(ctx context.Context, agentID, credential string) (*core.Agent, error) {
	agent, err := s.Authorize(ctx, credential)
	if err != nil {
		return nil, err
	}
	if agent.ID != agentID {
		return nil, &core.AuthorizationError{Reason: "credential does not match agent id", Err: core.ErrUnauthorized}
	}
	return agent, nil
}

// Invalidate drops a credential from the cache.
func (s *Service) Invalidate(credential string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, credential)
}

// RegisterRequest carries the registration payload.
type RegisterRequest struct {
	Type              core.AgentType `json:"type"`
	Name              string         `json:"name"`
	Category          string         `json:"category,omitempty"`
	RegistrationToken string         `json:"registration_token,omitempty"`
}

// RegisterResult is returned for both fresh and restored identities.
type RegisterResult struct {
	AgentID    string `json:"agent_id"`
	Credential string `json:"api_key"`
	Status     string `json:"status"` // "Registered" or "Restored"
}

// Register creates a new agent or returns the existing identity for a
// (name, type) pair. When a registration token is configured, a mismatching
// or absent token is refused before touching the registry.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if s.opts.RegistrationToken != "" && req.RegistrationToken != s.opts.RegistrationToken {
		s.opts.Logger.Warn("registration denied", "name", req.Name, "reason", "invalid token")
		return nil, &core.AuthorizationError{Reason: "invalid registration token", Err: core.ErrUnauthorized}
	}
	if !req.Type.Valid() {
		return nil, &core.ValidationError{Field: "type", Detail: "must be buyer or seller"}
	}
	if req.Name == "" {
		return nil, &core.ValidationError{Field: "name", Detail: "must not be empty"}
	}

	existing, err := s.registry.FindAgentByNameType(ctx, req.Name, req.Type)
	if err == nil {
		s.opts.Logger.Info("registration restored existing agent", "agent_id", existing.ID, "name", existing.Name)
		return &RegisterResult{AgentID: existing.ID, Credential: existing.Credential, Status: "Restored"}, nil
	}
	if !errors.Is(err, core.ErrAgentNotFound) {
		// Dedup check failed; proceed with a fresh identity rather than
		// refusing registration outright.
		s.opts.Logger.Warn("registration dedup check failed", "error", err)
	}

	category := req.Category
	if category == "" {
		category = s.opts.DefaultCategory
	}
	agent := &core.Agent{
		ID:         core.NewAgentID(req.Type),
		Type:       req.Type,
		Name:       req.Name,
		Category:   category,
		Credential: core.NewCredential(),
		Reputation: BaselineReputation,
		CreatedAt:  s.opts.Now().UTC(),
	}
	if err := s.registry.PutAgent(ctx, agent); err != nil {
		return nil, err
	}
	s.opts.Logger.Info("registered new agent", "agent_id", agent.ID, "name", agent.Name, "type", string(agent.Type))
	return &RegisterResult{AgentID: agent.ID, Credential: agent.Credential, Status: "Registered"}, nil
}
