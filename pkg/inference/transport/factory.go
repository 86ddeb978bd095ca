package transport

import (
	"github.com/embernet/sidekick-sub000/pkg/security"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/pkg/errors"
)

const (
	ProviderSidekick = "sidekick"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"
	ProviderEcho     = "echo"
)

// New returns the transport serving the given provider. A configured base
// URL must be https unless it points at the local network.
func New(provider string, cs *settings.ClientSettings, opts ...Option) (Transport, error) {
	if cs != nil && cs.BaseURL != "" && provider != ProviderEcho {
		err := security.ValidateServiceURL(cs.BaseURL, security.OutboundURLOptions{
			AllowInsecureRemote: cs.AllowInsecure,
		})
		if err != nil {
			return nil, err
		}
	}
	switch provider {
	case ProviderSidekick:
		return NewHTTPTransport(cs, opts...)
	case ProviderOpenAI, ProviderOllama:
		return NewOpenAITransport(cs, opts...)
	case ProviderEcho:
		return NewEchoTransport(), nil
	default:
		return nil, errors.Errorf("unknown provider %q", provider)
	}
}
