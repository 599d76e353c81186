package httpapi

import (
	"context"
	"time"

	"github.com/uxmcp/uxmcp/pkg/codehost"
	"github.com/uxmcp/uxmcp/pkg/metrics"
	"github.com/uxmcp/uxmcp/pkg/registry"
)

// toolInvoker implements executor.ToolInvoker by routing a resolved tool
// call straight to the Code Host, reusing the same sandboxed execution
// path as a direct service invocation over HTTP.
type toolInvoker struct {
	host    *codehost.Host
	metrics *metrics.Metrics
}

func newToolInvoker(host *codehost.Host, m *metrics.Metrics) *toolInvoker {
	return &toolInvoker{host: host, metrics: m}
}

func (t *toolInvoker) InvokeTool(ctx context.Context, svc *registry.Service, executionID string, args map[string]any) (any, error) {
	start := time.Now()
	result, err := t.host.Invoke(ctx, codehost.Request{
		ExecutionID:  executionID,
		Source:       svc.HandlerSrc,
		Dependencies: svc.Dependencies,
		Params:       args,
	})
	t.metrics.RecordToolCall(svc.Name, time.Since(start), errKindOf(err))
	return result, err
}
