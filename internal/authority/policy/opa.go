// Package policy decides whether a device ID is allowed, using an OPA Rego policy.
package policy

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// Query is the rule every policy must define.
const Query = "data.ied.validation.allow"

// DefaultPolicy allows exactly the IDs on the stored list.
const DefaultPolicy = `package ied.validation

default allow := false

allow if {
	input.id != ""
	input.id == input.allowed_ids[_]
}
`

// ErrUndefined is returned when the policy does not produce a boolean for Query.
var ErrUndefined = errors.New("policy: allow is undefined")

// OPAEvaluator evaluates the validation policy. It is safe for concurrent use.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles module, or DefaultPolicy when module is empty.
func NewOPAEvaluator(ctx context.Context, module string) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultPolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"validation.rego": module})
	if err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(Query),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy: %w", err)
	}
	return &OPAEvaluator{query: pq}, nil
}

// LoadFile compiles the policy stored at path. An empty path selects DefaultPolicy.
func LoadFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// Allowed reports whether id may change status given the current allow list.
func (e *OPAEvaluator) Allowed(ctx context.Context, id string, allowedIDs []string) (bool, error) {
	list := make([]interface{}, len(allowedIDs))
	for i, a := range allowedIDs {
		list[i] = a
	}
	input := map[string]interface{}{
		"id":          id,
		"allowed_ids": list,
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, ErrUndefined
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, ErrUndefined
	}
	return allowed, nil
}

// HealthCheck evaluates the compiled policy against a minimal input. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	if _, err := e.Allowed(ctx, "", nil); err != nil {
		return err
	}
	return nil
}
