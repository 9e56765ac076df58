package interp

import (
	"fmt"

	"github.com/mlld-lang/mlld/interp/engine/expr"
)

// GuardDecision is the outcome a guard rule action produces (§4.9).
type GuardDecision string

const (
	DecisionAllow  GuardDecision = "allow"
	DecisionDeny   GuardDecision = "deny"
	DecisionRetry  GuardDecision = "retry"
	DecisionPrompt GuardDecision = "prompt"
)

// GuardScope distinguishes when a guard fires (§4.9).
type GuardScope string

const (
	ScopePerInput     GuardScope = "perInput"
	ScopePerOperation GuardScope = "perOperation"
)

// GuardRule is one condition/decision pair of a registered guard (§4.1,
// §4.9, §6 "Guard surface").
type GuardRule struct {
	Condition  string // expr-lang source; empty when IsWildcard
	IsWildcard bool
	Decision   GuardDecision
	Message    string // deny message / retry hint, per decision
}

// Guard is a named rule set registered under a scope and operation kind
// (§3.4 "guardRegistry", §4.1 "guard").
type Guard struct {
	Name  string
	Scope GuardScope
	Kind  string // "exe", "output", "show", "run", ... or "" for any
	Rules []GuardRule
}

// Approver requests host approval for a `prompt` decision (§4.9 "prompt
// requests approval from the host; if unavailable, treat as deny").
type Approver interface {
	RequestApproval(guardName string, scope map[string]any) (bool, error)
}

// GuardOutcome is the result of evaluating a Guard against a scope.
type GuardOutcome struct {
	Decision GuardDecision
	Message  string
}

// GuardRegistry stores guards keyed by (name, scope) (§3.4, §4.9).
type GuardRegistry struct {
	guards map[string]*Guard
}

// NewGuardRegistry returns an empty GuardRegistry.
func NewGuardRegistry() *GuardRegistry {
	return &GuardRegistry{guards: map[string]*Guard{}}
}

func guardKey(name string, scope GuardScope) string {
	return string(scope) + ":" + name
}

// Register adds or replaces a guard under its (name, scope) key.
func (r *GuardRegistry) Register(g *Guard) {
	r.guards[guardKey(g.Name, g.Scope)] = g
}

// Lookup finds a guard by name and scope.
func (r *GuardRegistry) Lookup(name string, scope GuardScope) (*Guard, bool) {
	g, ok := r.guards[guardKey(name, scope)]
	return g, ok
}

// ForKind returns every registered guard of the given scope whose Kind
// matches kind (or carries no Kind restriction), used by the Evaluator
// to find the per-operation guards that apply to an about-to-run op
// (§4.9 "per-operation: when an op of the matching kind... is about to
// execute").
func (r *GuardRegistry) ForKind(scope GuardScope, kind string) []*Guard {
	var out []*Guard
	for _, g := range r.guards {
		if g.Scope != scope {
			continue
		}
		if g.Kind == "" || g.Kind == kind {
			out = append(out, g)
		}
	}
	return out
}

// GuardEngine evaluates guard rules in order against an augmented @ctx
// scope, returning the first matching rule's decision (§4.9 "Rules are
// evaluated in order with an augmented @ctx...").
type GuardEngine struct {
	cond     *expr.ConditionEvaluator
	approver Approver
}

// NewGuardEngine returns a GuardEngine. approver may be nil, in which
// case a `prompt` decision always falls back to deny.
func NewGuardEngine(approver Approver) *GuardEngine {
	return &GuardEngine{cond: expr.NewConditionEvaluator(), approver: approver}
}

// Evaluate runs g's rules in order against scope, returning the first
// matching rule's decision. scope should already carry @ctx.guard.try,
// @ctx.output, @ctx.labels, and denied state per §4.9/§6.
func (e *GuardEngine) Evaluate(g *Guard, scope map[string]any) (*GuardOutcome, error) {
	for _, rule := range g.Rules {
		matched := rule.IsWildcard
		if !matched {
			ok, err := e.cond.EvalBool(rule.Condition, scope)
			if err != nil {
				return nil, ErrConditionEval(err)
			}
			matched = ok
		}
		if !matched {
			continue
		}

		switch rule.Decision {
		case DecisionPrompt:
			if e.approver == nil {
				return &GuardOutcome{Decision: DecisionDeny, Message: "prompt unavailable: no approver configured"}, nil
			}
			approved, err := e.approver.RequestApproval(g.Name, scope)
			if err != nil {
				return &GuardOutcome{Decision: DecisionDeny, Message: err.Error()}, nil
			}
			if approved {
				return &GuardOutcome{Decision: DecisionAllow}, nil
			}
			return &GuardOutcome{Decision: DecisionDeny, Message: "prompt declined by host"}, nil
		default:
			return &GuardOutcome{Decision: rule.Decision, Message: rule.Message}, nil
		}
	}
	return &GuardOutcome{Decision: DecisionAllow}, nil
}

// ApplyOutcome converts a non-allow GuardOutcome into the effect the
// caller (ExecInvocation / pipeline stage) should take (§4.9 "Decisions"
// table). A `deny` is not a Go error — per §7 "denied is not an error:
// it is a first-class evaluation context" — callers thread denied/reason
// into the OperationContext so `when`/`if` branches can observe it.
func (o *GuardOutcome) ApplyOutcome() (denied bool, reason string, retrySignal *RetrySignal) {
	switch o.Decision {
	case DecisionAllow:
		return false, "", nil
	case DecisionDeny:
		return true, o.Message, nil
	case DecisionRetry:
		return false, "", &RetrySignal{Hint: o.Message}
	default:
		return true, fmt.Sprintf("unhandled guard decision %q", o.Decision), nil
	}
}
