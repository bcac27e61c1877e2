package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "github.com/corestream/datacore/internal/errors"
	"github.com/corestream/datacore/internal/methodcontext"
)

func TestInvokeRunsStepsInOrderAndAccumulatesResult(t *testing.T) {
	p := New()
	var order []string
	p.Register("events.get",
		func(ctx context.Context, mc *methodcontext.Context, call *Call) error {
			order = append(order, "validate")
			return nil
		},
		func(ctx context.Context, mc *methodcontext.Context, call *Call) error {
			order = append(order, "body")
			call.Result = "ok"
			return nil
		},
	)

	result, err := p.Invoke(context.Background(), nil, "events.get", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"validate", "body"}, order)
}

func TestInvokeAbortsOnFirstError(t *testing.T) {
	p := New()
	var ran bool
	p.Register("events.create",
		func(ctx context.Context, mc *methodcontext.Context, call *Call) error {
			return apierrors.InvalidParametersFormat("bad params")
		},
		func(ctx context.Context, mc *methodcontext.Context, call *Call) error {
			ran = true
			return nil
		},
	)

	_, err := p.Invoke(context.Background(), nil, "events.create", nil)
	require.Error(t, err)
	assert.False(t, ran, "second step must be skipped after the first error")
	assert.Contains(t, err.Error(), "invalid-parameters-format")
}

func TestInvokeUnknownMethod(t *testing.T) {
	p := New()
	_, err := p.Invoke(context.Background(), nil, "no.such.method", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown-resource")
}

func TestBatchCollectsIndependentResults(t *testing.T) {
	p := New()
	p.Register("a.ok", func(ctx context.Context, mc *methodcontext.Context, call *Call) error {
		call.Result = "a"
		return nil
	})
	p.Register("b.fail", func(ctx context.Context, mc *methodcontext.Context, call *Call) error {
		return apierrors.InvalidOperation("nope")
	})
	p.Register("c.ok", func(ctx context.Context, mc *methodcontext.Context, call *Call) error {
		call.Result = "c"
		return nil
	})

	results := p.Batch(context.Background(), nil, []BatchRequest{
		{Method: "a.ok"},
		{Method: "b.fail"},
		{Method: "c.ok"},
	})

	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Result)
	assert.NoError(t, results[0].Error)
	assert.Error(t, results[1].Error)
	assert.Equal(t, "c", results[2].Result)
	assert.NoError(t, results[2].Error)
}
