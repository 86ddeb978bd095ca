package settings

import (
	"github.com/huandu/go-clone"
)

// ModelSettings names the provider and model a request is sent to, plus the
// generation parameters forwarded verbatim to the completion service.
type ModelSettings struct {
	Provider          string                 `yaml:"provider" json:"provider" validate:"required"`
	Model             string                 `yaml:"model" json:"model" validate:"required"`
	Temperature       *float64               `yaml:"temperature,omitempty" json:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP              *float64               `yaml:"top_p,omitempty" json:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxResponseTokens *int                   `yaml:"max_response_tokens,omitempty" json:"max_response_tokens,omitempty" validate:"omitempty,gt=0"`
	Stop              []string               `yaml:"stop,omitempty" json:"stop,omitempty"`
	Parameters        map[string]interface{} `yaml:"parameters,omitempty" json:"parameters,omitempty"`
}

func NewModelSettings(provider, model string) *ModelSettings {
	return &ModelSettings{
		Provider:   provider,
		Model:      model,
		Stop:       []string{},
		Parameters: map[string]interface{}{},
	}
}

func (s *ModelSettings) Clone() *ModelSettings {
	if s == nil {
		return nil
	}
	return clone.Clone(s).(*ModelSettings)
}

func (s *ModelSettings) Validate() error {
	return validateStruct(s)
}

func (s *ModelSettings) GetMetadata() map[string]interface{} {
	metadata := map[string]interface{}{
		"ai-provider": s.Provider,
		"ai-engine":   s.Model,
	}
	if s.Temperature != nil {
		metadata["ai-temperature"] = *s.Temperature
	}
	if s.TopP != nil && *s.TopP != 1 {
		metadata["ai-top-p"] = *s.TopP
	}
	if s.MaxResponseTokens != nil {
		metadata["ai-max-response-tokens"] = *s.MaxResponseTokens
	}
	if len(s.Stop) > 0 {
		metadata["ai-stop"] = s.Stop
	}
	return metadata
}
