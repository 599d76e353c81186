package httpapi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/uxmcp/uxmcp/pkg/codehost"
	"github.com/uxmcp/uxmcp/pkg/completion"
	"github.com/uxmcp/uxmcp/pkg/registry"
	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// synthesizeService backs the synchronous "/services/generate" endpoint
// (§6): unlike the meta-agent's service-creation sub-loop, this is a
// single generate-and-return call with no activate/test/repair cycle —
// the operator reviews and activates the draft themselves.
func synthesizeService(ctx context.Context, comp *completion.Interface, description string) (*registry.Service, error) {
	res, err := comp.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: `Generate a Lua tool handler from a natural-language description. The source must define a global function handler(params) that returns a JSON-serializable value. Respond with JSON only: {"name":"","description":"","source":"","dependencies":[],"params":[{"name":"","type":"string","required":true,"description":""}],"route":"/tools/name","method":"POST"}`},
			{Role: completion.RoleUser, Content: description},
		},
		Mode:        completion.ModeJSON,
		Temperature: 0.2,
		MaxTokens:   2048,
	})
	if err != nil {
		return nil, err
	}
	var gen struct {
		Name         string            `json:"name"`
		Description  string            `json:"description"`
		Source       string            `json:"source"`
		Dependencies []string          `json:"dependencies"`
		Params       []registry.Param  `json:"params"`
		Route        string            `json:"route"`
		Method       string            `json:"method"`
	}
	if err := json.Unmarshal([]byte(res.Message), &gen); err != nil {
		return nil, uxerr.Wrap(uxerr.BadJson, err)
	}
	method := registry.Method(gen.Method)
	if method == "" {
		method = registry.MethodPOST
	}
	route := gen.Route
	if route == "" {
		route = "/tools/" + gen.Name
	}
	return &registry.Service{
		Name:         gen.Name,
		Kind:         registry.KindTool,
		Method:       method,
		Route:        route,
		Params:       gen.Params,
		HandlerSrc:   gen.Source,
		Dependencies: gen.Dependencies,
		Description:  gen.Description,
	}, nil
}

// synthesizeParams asks the resolved profile's model for a plausible set
// of test values for a service's declared params, the same lenient
// "synthesize → invoke → grade" idiom the meta-agent uses for its own
// generated tools, here applied to any existing service under test.
func synthesizeParams(ctx context.Context, d Deps, profileName string, svc *registry.Service) map[string]any {
	comp, _, err := resolveProfile(d.Registry, profileName)
	if err != nil {
		return nil
	}
	res, err := comp.Complete(ctx, completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: `Given a tool's parameter list, synthesize a plausible set of test values. Respond with JSON only: {"params":{}}`},
			{Role: completion.RoleUser, Content: fmt.Sprintf("Service: %s\nParams: %+v", svc.Name, svc.Params)},
		},
		Mode:        completion.ModeJSON,
		Temperature: 0.2,
		MaxTokens:   512,
	})
	if err != nil {
		return nil
	}
	var wrapper struct {
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(res.Message), &wrapper); err != nil {
		return nil
	}
	return wrapper.Params
}

func codehostTestRequest(svc *registry.Service, params map[string]any) codehost.Request {
	return codehost.Request{
		Source:       svc.HandlerSrc,
		Dependencies: svc.Dependencies,
		Params:       params,
	}
}
