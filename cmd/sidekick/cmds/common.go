package cmds

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/embernet/sidekick-sub000/pkg/events"
	"github.com/embernet/sidekick-sub000/pkg/helpers"
	"github.com/embernet/sidekick-sub000/pkg/inference/session"
	"github.com/embernet/sidekick-sub000/pkg/inference/transport"
	"github.com/embernet/sidekick-sub000/pkg/persistence"
	"github.com/embernet/sidekick-sub000/pkg/settings"
	"github.com/embernet/sidekick-sub000/pkg/surfaces"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// AddSessionFlags registers the flags shared by every command that talks to
// a model or a conversation store.
func AddSessionFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("provider", "", "Completion provider (sidekick, openai, ollama, echo), overrides the model profile")
	pf.String("model", "", "Model profile from the catalog, or a model name")
	pf.String("persona", "", "Persona from the catalog")
	pf.String("catalog", "", "Additional catalog file with model profiles and personas")
	pf.String("base-url", "", "Base URL of the completion service")
	pf.String("api-key", "", "API key for the completion service")
	pf.Bool("allow-insecure", false, "Allow a plain http base URL on a remote host")
	pf.Int("timeout", int(settings.DefaultTimeout.Seconds()), "Request timeout in seconds")
	pf.Int("requests-per-minute", 0, "Client side rate limit, 0 disables it")
	pf.Bool("stream", true, "Stream answers as they are generated")
	pf.Int("history-limit", 0, "Number of previous messages sent with a prompt, 0 sends all")
	pf.String("store", string(settings.StorageTypeFile), "Conversation store (memory, file, badger)")
	pf.String("store-path", defaultStorePath(), "Directory of the conversation store")
	pf.String("metrics-addr", "", "Serve prometheus metrics on this address")
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".sidekick"
	}
	return filepath.Join(dir, "sidekick", "conversations")
}

func loadCatalog() (*settings.Catalog, error) {
	catalog := settings.DefaultCatalog()
	if path := viper.GetString("catalog"); path != "" {
		c, err := settings.LoadCatalogFromFile(path)
		if err != nil {
			return nil, err
		}
		catalog.Merge(c)
	}
	return catalog, nil
}

// chatSettingsFromConfig resolves the model profile and persona and applies
// the command line overrides.
func chatSettingsFromConfig(catalog *settings.Catalog) (*settings.ChatSettings, error) {
	modelName := viper.GetString("model")
	if modelName == "" {
		modelName = catalog.DefaultModel
	}
	personaName := viper.GetString("persona")
	if personaName == "" {
		personaName = catalog.DefaultPersona
	}

	ret := settings.NewChatSettings()
	model, err := catalog.Model(modelName)
	if err != nil {
		provider := viper.GetString("provider")
		if provider == "" {
			return nil, err
		}
		model = settings.NewModelSettings(provider, modelName)
	}
	if provider := viper.GetString("provider"); provider != "" {
		model.Provider = provider
	}
	ret.Model = model

	if personaName != "" {
		persona, err := catalog.Persona(personaName)
		if err != nil {
			return nil, err
		}
		ret.PersonaSystemPrompt = persona.SystemPrompt
	}

	ret.Stream = viper.GetBool("stream")
	ret.HistoryLimit = viper.GetInt("history-limit")
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return ret, nil
}

func clientSettingsFromConfig() *settings.ClientSettings {
	cs := settings.NewClientSettings()
	cs.BaseURL = viper.GetString("base-url")
	cs.APIKey = viper.GetString("api-key")
	cs.TimeoutSeconds = helpers.Ptr(viper.GetInt("timeout"))
	cs.RequestsPerMinute = viper.GetInt("requests-per-minute")
	cs.AllowInsecure = viper.GetBool("allow-insecure")
	cs.UserAgent = "sidekick-cli"
	return cs
}

func storageSettingsFromConfig() *settings.StorageSettings {
	return &settings.StorageSettings{
		Type: settings.StorageType(viper.GetString("store")),
		Path: viper.GetString("store-path"),
	}
}

// environment holds what a command needs to drive sessions. close releases
// it in reverse order of acquisition.
type environment struct {
	catalog  *settings.Catalog
	chat     *settings.ChatSettings
	deps     surfaces.Deps
	router   *events.EventRouter
	registry *prometheus.Registry
	closers  []io.Closer
}

func newEnvironment(withTransport bool) (*environment, error) {
	env := &environment{}

	catalog, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	env.catalog = catalog

	gateway, closer, err := persistence.NewGateway(storageSettingsFromConfig())
	if err != nil {
		return nil, err
	}
	env.deps.Gateway = gateway
	env.closers = append(env.closers, closer)

	if !withTransport {
		return env, nil
	}

	env.chat, err = chatSettingsFromConfig(catalog)
	if err != nil {
		env.close()
		return nil, err
	}

	t, err := transport.New(env.chat.Model.Provider, clientSettingsFromConfig(),
		transport.WithTokenRefresh(func(token string) {
			log.Debug().Msg("completion service refreshed the access token")
			viper.Set("api-key", token)
		}))
	if err != nil {
		env.close()
		return nil, err
	}
	env.deps.Transport = t

	router, err := events.NewEventRouter(
		events.WithLogger(helpers.NewWatermill(log.Logger)),
		events.WithVerbose(viper.GetBool("verbose")),
		events.WithDumpWriter(os.Stdout),
	)
	if err != nil {
		env.close()
		return nil, err
	}
	env.router = router
	env.closers = append(env.closers, router)
	env.deps.Publisher = router.NewPublisherManager(events.DefaultTopic)

	env.registry = prometheus.NewRegistry()
	env.deps.Metrics = session.NewMetrics(env.registry)

	return env, nil
}

func (e *environment) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("failed to release resource")
		}
	}
	e.closers = nil
}

// serveMetrics exposes the registry on addr until ctx is done. An empty addr
// disables it.
func (e *environment) serveMetrics(ctx context.Context, addr string) error {
	if addr == "" || e.registry == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// flushAndClose waits for pending saves, then closes the controller.
func flushAndClose(c *session.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		log.Warn().Err(err).Msg("could not save conversation")
	}
	_ = c.Close()
}
