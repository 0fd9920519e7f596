// Package policy provides the pluggable screens the governance engine
// consults: CEL admission rules evaluated on every proposal submission, and
// a JSON Schema validator for agent registration metadata.
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/kara-bolt/karadao/pkg/contracts"
	"github.com/kara-bolt/karadao/pkg/fault"
)

// Rule is one named admission expression. The expression must evaluate to a
// bool; false rejects the submission.
type Rule struct {
	Name       string
	Expression string
}

type compiledRule struct {
	name string
	prg  cel.Program
}

// Admission screens proposal submissions against an ordered rule set. The
// first failing rule rejects; an empty rule set admits everything.
type Admission struct {
	rules []compiledRule
}

// NewAdmission compiles the rule set. Expressions see the submission as
// `proposer` (string), `tier` (string), `cycle` (int), and `reputation`
// (int). A rule that does not compile, or does not produce a bool, is a
// configuration error surfaced here rather than at submission time.
func NewAdmission(rules []Rule) (*Admission, error) {
	env, err := cel.NewEnv(
		cel.Variable("proposer", cel.StringType),
		cel.Variable("tier", cel.StringType),
		cel.Variable("cycle", cel.IntType),
		cel.Variable("reputation", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("admission env: %w", err)
	}

	a := &Admission{}
	for _, r := range rules {
		if r.Name == "" {
			return nil, fmt.Errorf("admission rule with empty name")
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile admission rule %q: %w", r.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("admission rule %q must evaluate to bool, got %s", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("program admission rule %q: %w", r.Name, err)
		}
		a.rules = append(a.rules, compiledRule{name: r.Name, prg: prg})
	}
	return a, nil
}

// Admit evaluates the rule set against one submission. Evaluation errors
// reject: a rule that cannot decide fails closed.
func (a *Admission) Admit(proposer contracts.Address, tier contracts.Tier, cycle uint64, reputation int) error {
	input := map[string]any{
		"proposer":   string(proposer),
		"tier":       tier.String(),
		"cycle":      int64(cycle),
		"reputation": int64(reputation),
	}
	for _, r := range a.rules {
		val, _, err := r.prg.Eval(input)
		if err != nil {
			return fault.Wrap(fault.CodeBlocked, err, "admission rule %q errored", r.name)
		}
		ok, isBool := val.Value().(bool)
		if !isBool || !ok {
			return fault.Blocked("admission rule %q rejected the submission", r.name)
		}
	}
	return nil
}

// Len returns the number of compiled rules.
func (a *Admission) Len() int { return len(a.rules) }
