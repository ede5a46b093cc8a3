// Package recall implements the cross-space allowlist authorization gate
// used by recall_authorization and by every context/recall operation that
// carries a requesterStoreId.
//
// A cel.Env is compiled once at construction and the single fixed
// membership expression is evaluated per check, defaulting to deny on any
// non-true/non-boolean result.
package recall

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

const allowlistExpr = `requesterStoreId in allowedStoreIds`

// AllowlistGate evaluates the fixed CEL membership expression against a
// (requesterStoreId, allowedStoreIds) input.
type AllowlistGate struct {
	env     *cel.Env
	program cel.Program
}

// NewAllowlistGate compiles the fixed allowlist expression once.
func NewAllowlistGate() (*AllowlistGate, error) {
	env, err := cel.NewEnv(
		cel.Variable("requesterStoreId", cel.StringType),
		cel.Variable("allowedStoreIds", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("recall: building CEL env: %w", err)
	}
	ast, issues := env.Compile(allowlistExpr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("recall: compiling allowlist expression: %w", issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("recall: building CEL program: %w", err)
	}
	return &AllowlistGate{env: env, program: prg}, nil
}

// Allowed evaluates the fixed expression. Any evaluation error, or a result
// that is not exactly boolean true, is treated as deny (fail-closed).
func (g *AllowlistGate) Allowed(requesterStoreID string, allowedStoreIDs []string) bool {
	out, _, err := g.program.Eval(map[string]interface{}{
		"requesterStoreId": requesterStoreID,
		"allowedStoreIds":  allowedStoreIDs,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
