package settings

import (
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestModelSettings_Validate(t *testing.T) {
	require.NoError(t, NewModelSettings("openai", "gpt-4o-mini").Validate())

	require.Error(t, (&ModelSettings{Model: "gpt-4o-mini"}).Validate())
	require.Error(t, (&ModelSettings{Provider: "openai"}).Validate())

	temp := 3.5
	s := NewModelSettings("openai", "gpt-4o-mini")
	s.Temperature = &temp
	require.Error(t, s.Validate())
}

func TestChatSettings_CloneIsDeep(t *testing.T) {
	s := NewChatSettings()
	s.Model = NewModelSettings("openai", "gpt-4o-mini")
	s.Model.Stop = []string{"###"}

	c := s.Clone()
	c.Model.Model = "other"
	c.Model.Stop[0] = "changed"

	assert.Equal(t, "gpt-4o-mini", s.Model.Model)
	assert.Equal(t, "###", s.Model.Stop[0])
}

func TestChatSettings_WithPersonaLeavesOriginal(t *testing.T) {
	s := NewChatSettings()
	s.PersonaSystemPrompt = "old"

	n := s.WithPersona("new")
	assert.Equal(t, "old", s.PersonaSystemPrompt)
	assert.Equal(t, "new", n.PersonaSystemPrompt)
	assert.Equal(t, s.Stream, n.Stream)
}

func TestChatSettings_StopMarkerDefault(t *testing.T) {
	var s *ChatSettings
	assert.Equal(t, DefaultStopMarker, s.GetStopMarker())
	assert.Equal(t, "[halt]", (&ChatSettings{StopMarker: "[halt]"}).GetStopMarker())
}

func TestClientSettings_TimeoutInSeconds(t *testing.T) {
	var cs ClientSettings
	err := yaml.Unmarshal([]byte("base_url: http://localhost:5003\ntimeout: 30\n"), &cs)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cs.GetTimeout())
	assert.Equal(t, "http://localhost:5003", cs.BaseURL)
	require.NoError(t, cs.Validate())

	assert.Equal(t, DefaultTimeout, (*ClientSettings)(nil).GetTimeout())
	assert.Equal(t, DefaultTimeout, NewClientSettings().GetTimeout())
	assert.Equal(t, DefaultTimeout, (&ClientSettings{}).GetTimeout())
}

func TestStorageSettings_Validate(t *testing.T) {
	require.NoError(t, NewStorageSettings().Validate())
	require.Error(t, (&StorageSettings{Type: StorageTypeFile}).Validate())
	require.NoError(t, (&StorageSettings{Type: StorageTypeFile, Path: "/tmp/x"}).Validate())
	require.Error(t, (&StorageSettings{Type: "s3", Path: "/tmp/x"}).Validate())
}

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	require.Contains(t, c.PersonaNames(), "help")

	cs, err := c.ChatSettings("", "")
	require.NoError(t, err)
	require.NotNil(t, cs.Model)
	assert.Equal(t, "echo", cs.Model.Provider)
	assert.Contains(t, cs.PersonaSystemPrompt, "Sidekick")
	assert.True(t, cs.Stream)

	_, err = c.Persona("nope")
	assert.True(t, errors.Is(err, ErrUnknownPersona))
	_, err = c.Model("nope")
	assert.True(t, errors.Is(err, ErrUnknownModel))
}

func TestCatalog_MergeOverrides(t *testing.T) {
	c := DefaultCatalog()
	other, err := NewCatalogFromYAML(strings.NewReader(`
default_persona: pirate
personas:
  pirate:
    system_prompt: Talk like a pirate.
`))
	require.NoError(t, err)

	c.Merge(other)
	p, err := c.Persona("")
	require.NoError(t, err)
	assert.Equal(t, "Talk like a pirate.", p.SystemPrompt)
}

func TestCatalog_RejectsInvalidModel(t *testing.T) {
	_, err := NewCatalogFromYAML(strings.NewReader(`
models:
  broken:
    provider: openai
`))
	require.Error(t, err)
}

func TestCatalog_ModelIsCopy(t *testing.T) {
	c := DefaultCatalog()
	m, err := c.Model("gpt-4o-mini")
	require.NoError(t, err)
	m.Model = "changed"

	again, err := c.Model("gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", again.Model)
}
