package authz

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const policyPackage = "bcp.session_access"

// Session-access policy. Writes need ownership; reads are open to any
// authenticated identity but tagged read-only for non-owners; the system
// identity may write to orphaned sessions it absorbed.
const sessionAccessPolicy = `package bcp.session_access

default allow = false
default read_only = false

allow if {
	input.authenticated
	input.operation == "write"
	input.admin_id == input.owner_admin_id
}

allow if {
	input.authenticated
	input.operation == "write"
	input.system_identity
	input.session_orphaned
}

allow if {
	input.authenticated
	input.operation == "read"
}

read_only if {
	input.authenticated
	input.operation == "read"
	input.admin_id != input.owner_admin_id
}
`

// OPAEvaluator evaluates session access with the embedded Rego policy,
// compiled once at construction.
type OPAEvaluator struct {
	compiler *ast.Compiler
}

// NewOPAEvaluator compiles the session-access policy.
func NewOPAEvaluator() (*OPAEvaluator, error) {
	compiler, err := ast.CompileModules(map[string]string{
		"session_access.rego": sessionAccessPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("compile session-access policy: %w", err)
	}
	return &OPAEvaluator{compiler: compiler}, nil
}

// HealthCheck evaluates the policy against a minimal input. Returns nil on
// success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluateAccess(ctx, AccessInput{
		AdminID:       "probe",
		OwnerAdminID:  "probe",
		Operation:     OperationRead,
		Authenticated: true,
	})
	return err
}

// EvaluateAccess runs the allow and read_only queries. Any evaluation
// failure denies.
func (e *OPAEvaluator) EvaluateAccess(ctx context.Context, input AccessInput) (Decision, error) {
	regoInput := map[string]interface{}{
		"admin_id":         input.AdminID,
		"owner_admin_id":   input.OwnerAdminID,
		"operation":        string(input.Operation),
		"session_orphaned": input.SessionOrphaned,
		"system_identity":  input.SystemIdentity,
		"authenticated":    input.Authenticated,
	}

	allow, err := e.queryBool(ctx, "data."+policyPackage+".allow", regoInput)
	if err != nil {
		return Decision{Reason: "policy evaluation failed"}, err
	}
	if !allow {
		return Decision{Reason: denyReason(input)}, nil
	}
	readOnly, err := e.queryBool(ctx, "data."+policyPackage+".read_only", regoInput)
	if err != nil {
		return Decision{Reason: "policy evaluation failed"}, err
	}
	return Decision{Allowed: true, ReadOnly: readOnly}, nil
}

func (e *OPAEvaluator) queryBool(ctx context.Context, query string, input map[string]interface{}) (bool, error) {
	rs, err := rego.New(
		rego.Query(query),
		rego.Compiler(e.compiler),
		rego.Input(input),
	).Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval %s: %w", query, err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("query %s returned no result", query)
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("query %s returned non-boolean", query)
	}
	return v, nil
}

func denyReason(input AccessInput) string {
	if !input.Authenticated {
		return "not authenticated"
	}
	if input.Operation == OperationWrite && input.AdminID != input.OwnerAdminID {
		return "not the session owner"
	}
	return "denied by policy"
}
