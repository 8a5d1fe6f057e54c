package gate

import (
	"context"
	"os"

	"github.com/open-policy-agent/opa/rego"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// PolicyGate evaluates a rego policy against the handshake.
// The policy must define data.relay.handshake.allow as a boolean.
type PolicyGate struct {
	query  rego.PreparedEvalQuery
	logger zerolog.Logger
}

// NewPolicyGate prepares the given policy module.
func NewPolicyGate(ctx context.Context, policyContent string, logger zerolog.Logger) (*PolicyGate, error) {
	r := rego.New(
		rego.Query("data.relay.handshake.allow"),
		rego.Module("handshake.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "prepare handshake policy")
	}

	return &PolicyGate{
		query:  query,
		logger: logger.With().Str("component", "gate").Logger(),
	}, nil
}

// LoadPolicyGate reads a policy file and prepares it.
func LoadPolicyGate(ctx context.Context, path string, logger zerolog.Logger) (*PolicyGate, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read policy %s", path)
	}
	return NewPolicyGate(ctx, string(content), logger)
}

// Allow evaluates the policy. Evaluation errors and undefined results reject.
func (g *PolicyGate) Allow(ctx context.Context, info ConnInfo) bool {
	input := map[string]interface{}{
		"key":         info.Key,
		"remote_addr": info.RemoteAddr,
		"user_agent":  info.UserAgent,
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		g.logger.Warn().Err(err).Str("key", info.Key).Msg("handshake policy evaluation failed")
		return false
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false
	}

	allowed, ok := results[0].Expressions[0].Value.(bool)
	return ok && allowed
}

// DefaultPolicy admits every key except the one reserved for server-originated envelopes.
const DefaultPolicy = `
package relay.handshake

default allow = true

allow = false {
	input.key == "server"
}
`
