package httpapi

import (
	"strings"

	"github.com/uxmcp/uxmcp/pkg/completion"
	"github.com/uxmcp/uxmcp/pkg/completion/anthropic"
	"github.com/uxmcp/uxmcp/pkg/completion/openai"
	"github.com/uxmcp/uxmcp/pkg/registry"
	"github.com/uxmcp/uxmcp/pkg/uxerr"
)

// resolveProfile looks up an LLM profile by name and wraps it as a
// completion.Interface bound to that profile's model/temperature/base URL.
// A profile whose base_url or model names Anthropic gets the Anthropic
// wire client; every other profile defaults to the OpenAI-compatible
// client, since most self-hosted/gateway endpoints (Ollama, vLLM,
// OpenRouter) speak that wire format — this is a routing heuristic at the
// composition root, not a field the registry's data model needs to carry.
func resolveProfile(reg *registry.Registry, name string) (*completion.Interface, *registry.LLMProfile, error) {
	profile, ok := reg.Profiles.GetByName(name)
	if !ok {
		return nil, nil, uxerr.New(uxerr.UnknownProfile, name)
	}
	if !profile.Active {
		return nil, nil, uxerr.New(uxerr.UnknownProfile, name+" is not active")
	}
	return completion.New(providerFor(profile)), profile, nil
}

func providerFor(p *registry.LLMProfile) completion.Provider {
	if isAnthropic(p) {
		return anthropic.New(anthropic.Config{
			APIKey:  p.APIKey,
			Model:   p.Model,
			BaseURL: p.BaseURL,
		})
	}
	return openai.New(openai.Config{
		APIKey:  p.APIKey,
		Model:   p.Model,
		BaseURL: p.BaseURL,
	})
}

func isAnthropic(p *registry.LLMProfile) bool {
	return strings.Contains(p.BaseURL, "anthropic") || strings.HasPrefix(p.Model, "claude")
}
