package completion

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

type fakeProvider struct {
	result Result
	err    error
}

func (f *fakeProvider) Complete(ctx context.Context, req Request) (Result, error) {
	return f.result, f.err
}

func TestCompletePassesThroughTextMode(t *testing.T) {
	i := New(&fakeProvider{result: Result{Message: "hello"}})
	res, err := i.Complete(context.Background(), Request{Mode: ModeText})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Message)
}

func TestCompletePropagatesProviderError(t *testing.T) {
	wantErr := uxerr.New(uxerr.ProviderUnavailable, "boom")
	i := New(&fakeProvider{err: wantErr})
	_, err := i.Complete(context.Background(), Request{Mode: ModeText})
	assert.Equal(t, wantErr, err)
}

func TestCompleteAcceptsValidJSON(t *testing.T) {
	i := New(&fakeProvider{result: Result{Message: `{"a":1}`}})
	res, err := i.Complete(context.Background(), Request{Mode: ModeJSON})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, res.Message)
}

func TestCompleteStripsJSONCodeFence(t *testing.T) {
	i := New(&fakeProvider{result: Result{Message: "```json\n{\"a\":1}\n```"}})
	res, err := i.Complete(context.Background(), Request{Mode: ModeJSON})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, res.Message)
}

func TestCompleteStripsBareCodeFence(t *testing.T) {
	i := New(&fakeProvider{result: Result{Message: "```\n{\"a\":1}\n```"}})
	res, err := i.Complete(context.Background(), Request{Mode: ModeJSON})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, res.Message)
}

func TestCompleteRejectsUnparseableJSON(t *testing.T) {
	i := New(&fakeProvider{result: Result{Message: "not json at all"}})
	_, err := i.Complete(context.Background(), Request{Mode: ModeJSON})
	require.Error(t, err)
	e, ok := uxerr.As(err)
	require.True(t, ok)
	assert.Equal(t, uxerr.BadJson, e.Kind)
}
