// Package rules provides the rule evaluation engine: typed condition
// predicates plus optional CEL guard expressions, evaluated against an
// immutable snapshot of the active rules.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/opensource-finance/harrier/internal/domain"
)

// MaxRuleScore caps the accumulated rule score.
const MaxRuleScore = 100

// Engine evaluates transactions against the currently loaded snapshot.
// Evaluation never blocks on Initialize; a reload swaps the snapshot
// atomically.
type Engine struct {
	env  *cel.Env
	snap atomic.Pointer[snapshot]
}

// snapshot is an immutable, priority-ordered set of compiled rules.
type snapshot struct {
	rules    []*compiledRule
	loadedAt time.Time
}

type compiledRule struct {
	rule    *domain.Rule
	program cel.Program
}

// NewEngine creates an engine with an empty snapshot.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("customer_id", cel.IntType),
		cel.Variable("merchant_id", cel.IntType),
		cel.Variable("category", cel.StringType),
		cel.Variable("transaction_type", cel.StringType),
		cel.Variable("velocity", cel.IntType),
		cel.Variable("old_balance_orig", cel.DoubleType),
		cel.Variable("new_balance_orig", cel.DoubleType),
		cel.Variable("old_balance_dest", cel.DoubleType),
		cel.Variable("new_balance_dest", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Engine{env: env}
	e.snap.Store(&snapshot{})
	return e, nil
}

// Initialize loads all active rules from src, ordered by ascending
// priority, and makes them the current snapshot. Edits made to the store
// afterwards are invisible until Initialize runs again.
func (e *Engine) Initialize(ctx context.Context, src domain.RuleSource) error {
	rules, err := src.ListActiveRules(ctx, domain.GlobalTenantID)
	if err != nil {
		return fmt.Errorf("failed to load active rules: %w", err)
	}
	e.Load(rules)
	return nil
}

// Load replaces the snapshot with the given rules. Inactive rules are
// ignored and rules whose guard expression does not compile are skipped.
func (e *Engine) Load(rules []*domain.Rule) {
	active := make([]*domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil && r.Active {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})

	next := &snapshot{
		rules:    make([]*compiledRule, 0, len(active)),
		loadedAt: time.Now().UTC(),
	}
	for _, r := range active {
		for _, s := range r.Conditions.Skipped {
			slog.Warn("skipping malformed rule condition", "rule", r.Name, "detail", s)
		}
		cr := &compiledRule{rule: r}
		if r.Expression != "" {
			prg, err := e.compile(r.Expression)
			if err != nil {
				slog.Warn("skipping rule with invalid expression", "rule", r.Name, "error", err)
				continue
			}
			cr.program = prg
		}
		next.rules = append(next.rules, cr)
	}

	e.snap.Store(next)
}

// ValidateRule checks that a rule's guard expression compiles.
func (e *Engine) ValidateRule(r *domain.Rule) error {
	if r == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidInput)
	}
	if r.Expression == "" {
		return nil
	}
	if _, err := e.compile(r.Expression); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// Evaluate runs every rule of the current snapshot against tx and the
// derived attributes. It is a pure function of its inputs and the snapshot.
func (e *Engine) Evaluate(tx *domain.Transaction, attrs domain.Attributes) domain.RuleEvaluation {
	out := domain.RuleEvaluation{TriggeredRules: []domain.TriggeredRule{}}
	if tx == nil {
		return out
	}

	snap := e.snap.Load()
	var activation map[string]any
	total := 0

	for _, cr := range snap.rules {
		satisfied, rejected := matchConditions(cr.rule.Conditions, tx, attrs)
		if rejected {
			continue
		}
		if cr.program != nil {
			if activation == nil {
				activation = buildActivation(tx, attrs)
			}
			// A guard that cannot be evaluated is skipped like a missing field.
			if ok, evaluated := evalGuard(cr.program, activation); evaluated {
				if !ok {
					continue
				}
				satisfied = true
			}
		}
		if !satisfied {
			continue
		}

		total += cr.rule.ScoreImpact
		out.TriggeredRules = append(out.TriggeredRules, domain.TriggeredRule{
			Name:        cr.rule.Name,
			Description: cr.rule.Description,
			ScoreImpact: cr.rule.ScoreImpact,
		})
	}

	out.TotalRuleScore = clampScore(total)
	return out
}

// RulesCount returns the number of rules in the current snapshot.
func (e *Engine) RulesCount() int {
	return len(e.snap.Load().rules)
}

// LoadedRules returns the rules of the current snapshot in evaluation order.
func (e *Engine) LoadedRules() []*domain.Rule {
	snap := e.snap.Load()
	out := make([]*domain.Rule, len(snap.rules))
	for i, cr := range snap.rules {
		out[i] = cr.rule
	}
	return out
}

// LoadedAt reports when the current snapshot was built.
func (e *Engine) LoadedAt() time.Time {
	return e.snap.Load().loadedAt
}

func (e *Engine) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return prg, nil
}

func clampScore(total int) int {
	if total < 0 {
		return 0
	}
	if total > MaxRuleScore {
		return MaxRuleScore
	}
	return total
}
