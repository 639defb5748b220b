package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeUnit7/Isiziba/core"
	"github.com/CodeUnit7/Isiziba/internal/testutil"
	"github.com/CodeUnit7/Isiziba/store"
)

// countingRegistry wraps the in-memory store to observe lookup traffic and
// inject failures.
type countingRegistry struct {
	core.AgentStore
	lookups int
	fail    error
}

func (r *countingRegistry) FindAgentByCredential(ctx context.Context, credential string) (*core.Agent, error) {
	r.lookups++
	if r.fail != nil {
		return nil, r.fail
	}
	return r.AgentStore.FindAgentByCredential(ctx, credential)
}

func newService(t *testing.T, optFns ...func(o *Options)) (*Service, *countingRegistry) {
	t.Helper()
	registry := &countingRegistry{AgentStore: store.NewInMemoryStore()}
	return New(registry, optFns...), registry
}

func TestAuthorize_CacheHitWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	svc, registry := newService(t, func(o *Options) {
		o.Now = func() time.Time { return now }
	})
	buyer := testutil.NewBuyer("ext-buyer-1")
	require.NoError(t, registry.PutAgent(context.Background(), buyer))

	for i := 0; i < 3; i++ {
		agent, err := svc.Authorize(context.Background(), buyer.Credential)
		require.NoError(t, err)
		assert.Equal(t, buyer.ID, agent.ID)
	}
	assert.Equal(t, 1, registry.lookups)

	// Past the TTL the registry is consulted again.
	now = now.Add(DefaultCacheTTL + time.Second)
	_, err := svc.Authorize(context.Background(), buyer.Credential)
	require.NoError(t, err)
	assert.Equal(t, 2, registry.lookups)
}

func TestAuthorize_UnknownCredential(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Authorize(context.Background(), "sk-unknown")
	var denied *core.AuthorizationError
	require.ErrorAs(t, err, &denied)
	assert.ErrorIs(t, err, core.ErrUnauthorized)
	assert.Equal(t, "unknown credential", denied.Reason)
}

func TestAuthorize_RegistryFailureFailsClosed(t *testing.T) {
	svc, registry := newService(t)
	registry.fail = errors.New("registry down")

	_, err := svc.Authorize(context.Background(), "sk-any")
	var denied *core.AuthorizationError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "registry unavailable", denied.Reason)
	assert.NotErrorIs(t, err, core.ErrUnauthorized)
}

func TestAuthorize_EmptyCredential(t *testing.T) {
	svc, registry := newService(t)
	_, err := svc.Authorize(context.Background(), "")
	assert.Error(t, err)
	assert.Zero(t, registry.lookups)
}

func TestAuthorize_Invalidate(t *testing.T) {
	svc, registry := newService(t)
	buyer := testutil.NewBuyer("ext-buyer-1")
	require.NoError(t, registry.PutAgent(context.Background(), buyer))

	_, err := svc.Authorize(context.Background(), buyer.Credential)
	require.NoError(t, err)
	svc.Invalidate(buyer.Credential)

	_, err = svc.Authorize(context.Background(), buyer.Credential)
	require.NoError(t, err)
	assert.Equal(t, 2, registry.lookups)
}

func TestVerifyIdentity(t *testing.T) {
	svc, registry := newService(t)
	buyer := testutil.NewBuyer("ext-buyer-1")
	require.NoError(t, registry.PutAgent(context.Background(), buyer))

	agent, err := svc.VerifyIdentity(context.Background(), buyer.ID, buyer.Credential)
	require.NoError(t, err)
	assert.Equal(t, buyer.ID, agent.ID)

	// A valid credential does not identify as someone else.
	_, err = svc.VerifyIdentity(context.Background(), "ext-buyer-other", buyer.Credential)
	assert.Error(t, err)
}

func TestRegister_NewAgent(t *testing.T) {
	svc, registry := newService(t)
	result, err := svc.Register(context.Background(), RegisterRequest{
		Type: core.AgentTypeBuyer,
		Name: "alpha",
	})
	require.NoError(t, err)
	assert.Equal(t, "Registered", result.Status)
	assert.Regexp(t, `^ext-buyer-`, result.AgentID)
	assert.Regexp(t, `^sk-`, result.Credential)

	agent, err := registry.GetAgent(context.Background(), result.AgentID)
	require.NoError(t, err)
	assert.Equal(t, BaselineReputation, agent.Reputation)
	assert.Equal(t, "general", agent.Category)
}

func TestRegister_IdempotentByNameType(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Register(ctx, RegisterRequest{Type: core.AgentTypeSeller, Name: "beta"})
	require.NoError(t, err)

	second, err := svc.Register(ctx, RegisterRequest{Type: core.AgentTypeSeller, Name: "beta"})
	require.NoError(t, err)
	assert.Equal(t, "Restored", second.Status)
	assert.Equal(t, first.AgentID, second.AgentID)
	assert.Equal(t, first.Credential, second.Credential)

	// Same name as the opposite role is a distinct identity.
	third, err := svc.Register(ctx, RegisterRequest{Type: core.AgentTypeBuyer, Name: "beta"})
	require.NoError(t, err)
	assert.Equal(t, "Registered", third.Status)
	assert.NotEqual(t, first.AgentID, third.AgentID)
}

func TestRegister_TokenGate(t *testing.T) {
	svc, _ := newService(t, func(o *Options) {
		o.RegistrationToken = "secret"
	})
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Type: core.AgentTypeBuyer, Name: "x"})
	assert.Error(t, err)

	_, err = svc.Register(ctx, RegisterRequest{Type: core.AgentTypeBuyer, Name: "x", RegistrationToken: "wrong"})
	assert.Error(t, err)

	result, err := svc.Register(ctx, RegisterRequest{Type: core.AgentTypeBuyer, Name: "x", RegistrationToken: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "Registered", result.Status)
}

func TestRegister_Validation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, RegisterRequest{Type: "broker", Name: "x"})
	var invalid *core.ValidationError
	assert.ErrorAs(t, err, &invalid)

	_, err = svc.Register(ctx, RegisterRequest{Type: core.AgentTypeBuyer})
	assert.ErrorAs(t, err, &invalid)
}
