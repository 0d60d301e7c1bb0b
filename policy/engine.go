// Package policy provides the OPA-based admission policy for batch runs.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Engine evaluates the batch admission policy.
type Engine struct {
	query rego.PreparedEvalQuery
}

// Input is the policy input for one run request.
type Input struct {
	IDs        []string `json:"ids"`
	Categories []string `json:"categories"`
	Backup     bool     `json:"backup"`
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.batch_policy.decision"),
		rego.Module("batch_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// NewEngineFromFile loads a policy from path, falling back to DefaultPolicy
// when path is empty.
func NewEngineFromFile(ctx context.Context, path string) (*Engine, error) {
	content := DefaultPolicy
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
		content = string(data)
	}
	return NewEngine(ctx, content)
}

// Evaluate checks a run request against the admission policy.
// Returns: decision ("allow" or "block"), reason (optional), error.
func (e *Engine) Evaluate(ctx context.Context, input Input) (string, string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "allow", "default", nil
	}

	val := results[0].Expressions[0].Value
	switch v := val.(type) {
	case string:
		return v, "", nil
	case map[string]interface{}:
		decision, _ := v["decision"].(string)
		reason, _ := v["reason"].(string)
		if decision == "" {
			decision = "allow"
		}
		return decision, reason, nil
	}
	return "allow", "unexpected return type", nil
}

// DefaultPolicy is the default policy content: every selection is admitted.
// Operators may point BATCH_POLICY_PATH at a stricter policy, for example
// blocking runs that touch the OS without a prior backup:
//
//	decision := {"decision": "block", "reason": "os updates require backup"} if {
//		"os" in input.categories
//		not input.backup
//	}
const DefaultPolicy = `
package batch_policy

default decision := "allow"
`
