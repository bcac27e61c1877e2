// Package pipeline registers named methods (e.g. "events.get", "auth.login")
// as ordered chains of steps and runs them against a resolved
// MethodContext. It has no HTTP awareness: internal/httpapi binds URL
// routes onto registered method names and hands this package the decoded
// params.
//
// Steps run in registration order; the first error any step returns aborts
// the chain, and every later step is skipped. A batch call runs a list of
// sub-calls against the same outer context, collecting one result or error
// per sub-call without letting one failure abort the rest.
package pipeline

import (
	"context"
	"fmt"

	apierrors "github.com/corestream/datacore/internal/errors"
	"github.com/corestream/datacore/internal/methodcontext"
)

// Call carries one method invocation's params and accumulated result as it
// passes through a method's steps.
type Call struct {
	Method string
	Params interface{}
	Result interface{}
}

// Step is one unit of a method chain. A step mutates call.Result, or
// returns a typed error (from internal/errors) that aborts the chain.
type Step func(ctx context.Context, mc *methodcontext.Context, call *Call) error

// method is one dotted-name method's registered step chain.
type method struct {
	name  string
	steps []Step
}

// Pipeline is the method registry: every call to Invoke/Batch runs against
// the methods registered here.
type Pipeline struct {
	methods map[string]*method
}

// New creates an empty method registry.
func New() *Pipeline {
	return &Pipeline{methods: map[string]*method{}}
}

// Register adds a named method with its ordered steps. Registering the same
// name twice replaces the previous chain — used by tests to substitute a
// stub step in an otherwise-real chain.
func (p *Pipeline) Register(name string, steps ...Step) {
	p.methods[name] = &method{name: name, steps: steps}
}

// Invoke runs one method's step chain to completion or first error.
func (p *Pipeline) Invoke(ctx context.Context, mc *methodcontext.Context, name string, params interface{}) (interface{}, error) {
	m, ok := p.methods[name]
	if !ok {
		return nil, apierrors.UnknownResource(fmt.Sprintf("method %q", name))
	}

	call := &Call{Method: name, Params: params}
	for _, step := range m.steps {
		if err := ctx.Err(); err != nil {
			return call.Result, apierrors.Unexpected(err)
		}
		if err := step(ctx, mc, call); err != nil {
			return call.Result, err
		}
	}
	return call.Result, nil
}

// BatchRequest is one sub-call of a batch method invocation.
type BatchRequest struct {
	Method string
	Params interface{}
}

// BatchResult is one sub-call's outcome: exactly one of Result/Error is set.
type BatchResult struct {
	Result interface{}
	Error  error
}

// Batch runs each request against Invoke, sharing the outer ctx and
// MethodContext, in order. A failing sub-call does not abort the others;
// results are returned in request order.
func (p *Pipeline) Batch(ctx context.Context, mc *methodcontext.Context, requests []BatchRequest) []BatchResult {
	results := make([]BatchResult, len(requests))
	for i, req := range requests {
		result, err := p.Invoke(ctx, mc, req.Method, req.Params)
		results[i] = BatchResult{Result: result, Error: err}
	}
	return results
}
