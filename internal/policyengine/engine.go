// Package policyengine resolves the security policy for a tool's
// requested Operation (C5): Allow, Deny, or Confirm. A Confirm decision
// that the caller accepts can be remembered, which persists a new policy
// so the same shape of operation is auto-allowed on future turns.
package policyengine

import (
	"context"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/forgecore/agentcore/pkg/domain"
)

// Decision explains the outcome of evaluating an Operation against the
// engine's policy set.
type Decision struct {
	Permission domain.Permission
	Reason     string
	MatchedBy  *domain.Policy
}

// ConfirmFunc is invoked when a policy resolves to Confirm. It must
// return whether the operation is approved and whether the approval
// should be remembered as a new standing policy.
type ConfirmFunc func(ctx context.Context, op domain.Operation) (approved bool, remember bool)

// Engine evaluates Operations against an ordered policy set. Policies are
// checked most-recently-added first, so a remembered confirmation
// (appended at the end) takes precedence over the default it originated
// from.
type Engine struct {
	mu        sync.RWMutex
	policies  []domain.Policy
	confirm   ConfirmFunc
	persister Persister
}

// Persister durably stores accept-and-remember policies so they survive
// restarts. See YAMLPersister for the bundled implementation.
type Persister interface {
	Load() ([]domain.Policy, error)
	Append(policy domain.Policy) error
}

// New builds an Engine seeded with policies (evaluated in the order
// given, each one an ultimate fallback for the ones before it) plus any
// policies already durable in persister.
func New(policies []domain.Policy, confirm ConfirmFunc, persister Persister) (*Engine, error) {
	e := &Engine{
		policies:  append([]domain.Policy(nil), policies...),
		confirm:   confirm,
		persister: persister,
	}
	if persister != nil {
		saved, err := persister.Load()
		if err != nil {
			return nil, err
		}
		e.policies = append(e.policies, saved...)
	}
	return e, nil
}

// Evaluate resolves op against the policy set, invoking confirm for a
// Confirm-permission match and persisting the decision if the caller asks
// to remember it.
func (e *Engine) Evaluate(ctx context.Context, op domain.Operation) (Decision, error) {
	e.mu.RLock()
	policy, ok := e.matchLocked(op)
	e.mu.RUnlock()

	if !ok {
		return Decision{Permission: domain.Confirm, Reason: "no matching policy, defaulting to confirm"}, nil
	}

	decision := Decision{Permission: policy.Permission, Reason: "matched policy " + describePolicy(policy), MatchedBy: &policy}
	if policy.Permission != domain.Confirm {
		return decision, nil
	}
	if e.confirm == nil {
		decision.Permission = domain.Deny
		decision.Reason = "confirm required but no confirmation handler configured"
		return decision, nil
	}

	approved, remember := e.confirm(ctx, op)
	if !approved {
		decision.Permission = domain.Deny
		decision.Reason = "confirmation declined"
		return decision, nil
	}
	decision.Permission = domain.Allow
	decision.Reason = "confirmation accepted"

	if remember {
		newPolicy := domain.Policy{
			Permission: domain.Allow,
			Rule: domain.Rule{
				Kind:    op.Kind,
				Pattern: rememberPattern(op),
			},
		}
		if op.Kind == domain.OpExecute {
			newPolicy.Rule.WorkingDirectory = op.Cwd
		}
		if err := e.remember(newPolicy); err != nil {
			return decision, err
		}
	}
	return decision, nil
}

// Policies returns a snapshot of the standing policy set, most recently
// added last (the same order Evaluate gives precedence within a tier).
func (e *Engine) Policies() []domain.Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Policy(nil), e.policies...)
}

// AddRule appends policy to the standing set and persists it, exactly as
// an accept-and-remember Confirm decision would.
func (e *Engine) AddRule(policy domain.Policy) error {
	return e.remember(policy)
}

func (e *Engine) remember(policy domain.Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = append(e.policies, policy)
	if e.persister != nil {
		return e.persister.Append(policy)
	}
	return nil
}

// matchLocked resolves op against the policy set by permission precedence,
// not recency: any matching Deny policy wins outright, then any matching
// Confirm, then any matching Allow. Within one precedence tier, the most
// recently added matching policy wins — which is what lets a remembered
// "accept and remember" Allow settle future Confirms of the same shape,
// since it is appended after the default that produced the Confirm.
func (e *Engine) matchLocked(op domain.Operation) (domain.Policy, bool) {
	var deny, confirm, allow *domain.Policy
	subject := operationSubject(op)
	for i := len(e.policies) - 1; i >= 0; i-- {
		policy := e.policies[i]
		rule := policy.Rule
		if rule.Kind != op.Kind {
			continue
		}
		if rule.WorkingDirectory != "" && rule.WorkingDirectory != op.Cwd {
			continue
		}
		if !domain.MatchGlob(rule.Pattern, subject) {
			continue
		}
		switch policy.Permission {
		case domain.Deny:
			if deny == nil {
				deny = &e.policies[i]
			}
		case domain.Confirm:
			if confirm == nil {
				confirm = &e.policies[i]
			}
		case domain.Allow:
			if allow == nil {
				allow = &e.policies[i]
			}
		}
	}
	switch {
	case deny != nil:
		return *deny, true
	case confirm != nil:
		return *confirm, true
	case allow != nil:
		return *allow, true
	default:
		return domain.Policy{}, false
	}
}

func operationSubject(op domain.Operation) string {
	switch op.Kind {
	case domain.OpExecute:
		return op.Command
	case domain.OpFetch:
		return op.URL
	default:
		return op.Path
	}
}

// rememberPattern synthesizes the glob an "accept and remember" decision
// persists: a file-extension glob for reads/writes, a host glob for
// fetches, and a first-one-or-two-token command glob for executes — each
// broad enough to cover the next operation of the same shape without
// being as wide as "*".
func rememberPattern(op domain.Operation) string {
	switch op.Kind {
	case domain.OpRead, domain.OpWrite:
		if ext := filepath.Ext(op.Path); ext != "" {
			return "*" + ext
		}
		if op.Path == "" {
			return "*"
		}
		return op.Path
	case domain.OpFetch:
		if op.URL == "" {
			return "*"
		}
		u, err := url.Parse(op.URL)
		if err != nil || u.Host == "" {
			return op.URL
		}
		scheme := u.Scheme
		if scheme == "" {
			scheme = "https"
		}
		return scheme + "://" + u.Host + "/*"
	case domain.OpExecute:
		return executeGlob(op.Command)
	default:
		subject := operationSubject(op)
		if subject == "" {
			return "*"
		}
		return subject
	}
}

// executeGlob keeps the first one or two whitespace-separated tokens of a
// shell command and wildcards the rest, e.g. "rm -rf /tmp/x" → "rm *" and
// "git commit -m x" → "git commit *".
func executeGlob(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "*"
	}
	keep := 1
	if len(fields) > 1 && !strings.HasPrefix(fields[1], "-") {
		keep = 2
	}
	if keep > len(fields) {
		keep = len(fields)
	}
	return strings.Join(fields[:keep], " ") + " *"
}

func describePolicy(policy domain.Policy) string {
	return strings.TrimSpace(string(policy.Rule.Kind) + " " + policy.Rule.Pattern)
}
