package gate

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowList(t *testing.T) {
	ctx := context.Background()

	open := NewAllowList(nil)
	assert.True(t, open.Allow(ctx, ConnInfo{Key: "anyone"}))

	strict := NewAllowList([]string{"alice", " bob ", ""})
	assert.Equal(t, 2, strict.Len())
	assert.True(t, strict.Allow(ctx, ConnInfo{Key: "alice"}))
	assert.True(t, strict.Allow(ctx, ConnInfo{Key: "bob"}))
	assert.False(t, strict.Allow(ctx, ConnInfo{Key: "mallory"}))
	assert.False(t, strict.Allow(ctx, ConnInfo{}))
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	deny := Func(func(context.Context, ConnInfo) bool { return false })

	assert.True(t, Chain().Allow(ctx, ConnInfo{}))
	assert.True(t, Chain(AllowAll, nil, NewAllowList(nil)).Allow(ctx, ConnInfo{Key: "k"}))
	assert.False(t, Chain(AllowAll, deny).Allow(ctx, ConnInfo{Key: "k"}))
}

func TestInfoFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?key=fromquery", nil)
	r.Header.Set("User-Agent", "relay-test")
	info := InfoFromRequest(r, "10.0.0.1")
	assert.Equal(t, ConnInfo{Key: "fromquery", RemoteAddr: "10.0.0.1", UserAgent: "relay-test"}, info)

	r.Header.Set(HeaderAuthKey, "fromheader")
	assert.Equal(t, "fromheader", InfoFromRequest(r, "").Key)
}

func TestPolicyGateDefault(t *testing.T) {
	ctx := context.Background()
	g, err := NewPolicyGate(ctx, DefaultPolicy, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, g.Allow(ctx, ConnInfo{Key: "alice"}))
	assert.False(t, g.Allow(ctx, ConnInfo{Key: "server"}))
}

func TestPolicyGateCustom(t *testing.T) {
	ctx := context.Background()
	policy := `
package relay.handshake

default allow = false

allow {
	startswith(input.key, "team-")
	input.user_agent != "blocked"
}
`
	g, err := NewPolicyGate(ctx, policy, zerolog.Nop())
	require.NoError(t, err)

	assert.True(t, g.Allow(ctx, ConnInfo{Key: "team-a"}))
	assert.False(t, g.Allow(ctx, ConnInfo{Key: "team-a", UserAgent: "blocked"}))
	assert.False(t, g.Allow(ctx, ConnInfo{Key: "solo"}))
}

func TestPolicyGateInvalid(t *testing.T) {
	_, err := NewPolicyGate(context.Background(), "package relay.handshake\nallow {", zerolog.Nop())
	assert.Error(t, err)
}
