// Package policy decides whether a tool invocation may run.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
)

// Decision values returned by the policy.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// Input is the document the policy is evaluated against.
type Input struct {
	ToolName string `json:"tool_name"`
	Args     any    `json:"args"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	AgentID  string `json:"agent_id"`
	RunID    string `json:"run_id"`
}

// Result is the outcome of one evaluation.
type Result struct {
	Decision string
	Reason   string
}

// Allowed reports whether the tool may run.
func (r Result) Allowed() bool { return r.Decision != DecisionBlock }

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.tool_policy"),
		rego.Module("tool_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// LoadEngine builds an engine from path, or from DefaultPolicy when path is
// empty.
func LoadEngine(ctx context.Context, path string) (*Engine, error) {
	if path == "" {
		return NewEngine(ctx, DefaultPolicy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return NewEngine(ctx, string(data))
}

// Evaluate checks the tool policy. A policy that yields no decision allows.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Result, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Result{}, fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Result{Decision: DecisionAllow, Reason: "default"}, nil
	}

	doc, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Result{Decision: DecisionAllow, Reason: "unexpected return type"}, nil
	}
	res := Result{Decision: DecisionAllow}
	if s, ok := doc["decision"].(string); ok && s != "" {
		res.Decision = s
	}
	if s, ok := doc["reason"].(string); ok {
		res.Reason = s
	}
	return res, nil
}

// DefaultPolicy blocks every tool in the dangerous.* namespace.
const DefaultPolicy = `
package tool_policy

default decision = "allow"
default reason = ""

decision = "block" {
	startswith(input.tool_name, "dangerous.")
}

reason = "dangerous commands are disabled" {
	startswith(input.tool_name, "dangerous.")
}
`
