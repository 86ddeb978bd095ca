package settings

import (
	"github.com/huandu/go-clone"
)

const DefaultStopMarker = "(stopped by user)"

// ChatSettings is the per-session configuration. The session engine only reads
// it; edits produce a new snapshot that applies to the next submission.
type ChatSettings struct {
	Model               *ModelSettings `yaml:"model,omitempty" json:"model,omitempty"`
	PersonaSystemPrompt string         `yaml:"persona_system_prompt,omitempty" json:"persona_system_prompt,omitempty"`
	Stream              bool           `yaml:"stream" json:"stream"`
	StopMarker          string         `yaml:"stop_marker,omitempty" json:"stop_marker,omitempty"`
	// HistoryLimit caps how many prior messages are sent, 0 means all.
	HistoryLimit int `yaml:"history_limit,omitempty" json:"history_limit,omitempty" validate:"gte=0"`
}

func NewChatSettings() *ChatSettings {
	return &ChatSettings{
		Stream:     true,
		StopMarker: DefaultStopMarker,
	}
}

func (s *ChatSettings) Clone() *ChatSettings {
	if s == nil {
		return nil
	}
	return clone.Clone(s).(*ChatSettings)
}

// WithPersona returns a copy using the given system prompt.
func (s *ChatSettings) WithPersona(systemPrompt string) *ChatSettings {
	ret := s.Clone()
	if ret == nil {
		ret = NewChatSettings()
	}
	ret.PersonaSystemPrompt = systemPrompt
	return ret
}

func (s *ChatSettings) GetStopMarker() string {
	if s == nil || s.StopMarker == "" {
		return DefaultStopMarker
	}
	return s.StopMarker
}

func (s *ChatSettings) GetMetadata() map[string]interface{} {
	metadata := map[string]interface{}{
		"ai-stream": s.Stream,
	}
	if s.Model != nil {
		for k, v := range s.Model.GetMetadata() {
			metadata[k] = v
		}
	}
	if s.HistoryLimit > 0 {
		metadata["ai-history-limit"] = s.HistoryLimit
	}
	return metadata
}

func (s *ChatSettings) Validate() error {
	return validateStruct(s)
}
