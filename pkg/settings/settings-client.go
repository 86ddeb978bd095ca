package settings

import (
	"time"

	"github.com/embernet/sidekick-sub000/pkg/helpers"
	"github.com/huandu/go-clone"
)

const DefaultTimeout = 60 * time.Second

type ClientSettings struct {
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	APIKey  string `yaml:"api_key,omitempty"`
	// TimeoutSeconds bounds a whole non-streaming request. For streams it only
	// bounds connecting and waiting for the response headers.
	TimeoutSeconds *int   `yaml:"timeout,omitempty" validate:"omitempty,gt=0"`
	UserAgent      string `yaml:"user_agent,omitempty"`
	// RequestsPerMinute limits outgoing completion requests, 0 disables limiting.
	RequestsPerMinute int `yaml:"requests_per_minute,omitempty" validate:"gte=0"`
	// AllowInsecure permits a plain http BaseURL on a remote host.
	AllowInsecure bool `yaml:"allow_insecure,omitempty"`
}

func NewClientSettings() *ClientSettings {
	return &ClientSettings{
		TimeoutSeconds: helpers.Ptr(int(DefaultTimeout.Seconds())),
	}
}

func (cs *ClientSettings) Clone() *ClientSettings {
	if cs == nil {
		return nil
	}
	return clone.Clone(cs).(*ClientSettings)
}

func (cs *ClientSettings) Validate() error {
	return validateStruct(cs)
}

func (cs *ClientSettings) GetTimeout() time.Duration {
	if cs == nil {
		return DefaultTimeout
	}
	return time.Duration(helpers.Deref(cs.TimeoutSeconds, int(DefaultTimeout.Seconds()))) * time.Second
}
