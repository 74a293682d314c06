// Package cel provides the CEL-based condition evaluator for policy rules.
//
// Rule conditions may carry a CEL expression over the intent tree. The
// loader compiles expressions once per policy snapshot; the compiled program
// satisfies policy.ConditionProgram, so the engine evaluates it without
// knowing anything about CEL.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/guardian-hq/guardian/internal/domain/policy"
)

// maxExpressionLength is the maximum allowed length for CEL expressions.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit to prevent cost-exhaustion DoS.
const maxCostBudget = 100_000

// maxNestingDepth is the maximum allowed parenthesis/bracket nesting depth.
const maxNestingDepth = 50

// evalTimeout is the maximum time allowed for a single CEL evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context cancellation is checked.
const interruptCheckFreq = 100

// Evaluator compiles CEL expressions into engine-ready condition programs.
type Evaluator struct {
	env *cel.Env
}

// newIntentEnvironment creates a CEL environment exposing the intent tree:
// the full tree as "intent", plus "action" and "context" as shortcuts for the
// two subtrees most conditions address.
func newIntentEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("intent", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("action", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// NewEvaluator creates a CEL evaluator with the intent environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := newIntentEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create intent environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks expr, returning a program the engine can
// evaluate against an intent tree.
func (e *Evaluator) Compile(expr string) (policy.ConditionProgram, error) {
	if err := e.ValidateExpression(expr); err != nil {
		return nil, err
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return &program{prg: prg}, nil
}

// ValidateExpression checks that expr is syntactically valid and within the
// safety limits (length, nesting depth) without building a program.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	return nil
}

// validateNesting checks that the expression does not exceed the maximum
// allowed nesting depth for parentheses, brackets, and braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// program adapts a compiled cel.Program to policy.ConditionProgram.
type program struct {
	prg cel.Program
}

// Eval runs the program against the intent tree. Uses ContextEval with a
// timeout so a pathological expression cannot hang the pipeline.
func (p *program) Eval(tree map[string]any) (bool, error) {
	activation := map[string]any{
		"intent":  tree,
		"action":  subtree(tree, "action"),
		"context": subtree(tree, "context"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := p.prg.ContextEval(ctx, activation)
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}

func subtree(tree map[string]any, key string) map[string]any {
	if m, ok := tree[key].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
