package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/danielliuzy/cold-call-machine/internal/discovery"
	"github.com/danielliuzy/cold-call-machine/internal/lead"
	"github.com/danielliuzy/cold-call-machine/internal/model"
	"github.com/danielliuzy/cold-call-machine/internal/store"
	"github.com/danielliuzy/cold-call-machine/pkg/browseruse"
	"github.com/danielliuzy/cold-call-machine/pkg/llm"
	"github.com/danielliuzy/cold-call-machine/pkg/places"
	"github.com/danielliuzy/cold-call-machine/pkg/vapi"
)

// appEnv holds the store and vendor clients shared by the commands. Optional
// clients are nil when their key is not configured.
type appEnv struct {
	Store   store.Store
	LLM     llm.Client
	Vapi    vapi.Client
	Places  places.Client
	Browser browseruse.Client
}

// Close releases resources held by the environment.
func (ae *appEnv) Close() {
	if ae.Store != nil {
		_ = ae.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "coldcall.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv validates config for the given mode, opens the store, runs
// migrations, and builds the vendor clients. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{Store: st}

	if cfg.Anthropic.Key != "" {
		env.LLM = llm.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Warn("COLDCALL_ANTHROPIC_KEY not set, using deterministic fallbacks")
	}
	if cfg.Vapi.Key != "" {
		env.Vapi = vapi.NewClient(cfg.Vapi.Key, vapi.WithBaseURL(cfg.Vapi.BaseURL))
	}
	if cfg.Places.Key != "" {
		env.Places = places.NewClient(cfg.Places.Key, places.WithBaseURL(cfg.Places.BaseURL))
	}
	if cfg.Browser.Key != "" {
		env.Browser = browseruse.NewClient(cfg.Browser.Key, browseruse.WithBaseURL(cfg.Browser.BaseURL))
	}

	return env, nil
}

// initEnvStoreOnly opens and migrates the store without requiring any
// provider keys. The LLM client is still built when a key is present.
func initEnvStoreOnly(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	env := &appEnv{Store: st}
	if cfg.Anthropic.Key != "" {
		env.LLM = llm.NewClient(cfg.Anthropic.Key)
	}
	return env, nil
}

// newDiscoverer wires the discovery loop from config.
func (ae *appEnv) newDiscoverer() *discovery.Discoverer {
	scorer := lead.NewScorer(ae.LLM, cfg.Anthropic.HaikuModel)
	return discovery.New(ae.Store, ae.Places, ae.Browser, scorer, discovery.Config{
		TargetLeads:   cfg.Discovery.TargetLeads,
		BrowserTasks:  cfg.Discovery.BrowserTasks,
		PerQueryLimit: cfg.Discovery.PerQueryLimit,
		PollInterval:  time.Duration(cfg.Browser.PollIntervalSec) * time.Second,
		PollTimeout:   time.Duration(cfg.Browser.TimeoutSecs) * time.Second,
	})
}

// settingsFromConfig builds the calling policy seeded for a new business, with
// the config's concurrency knobs applied over the model defaults.
func settingsFromConfig(businessID string) model.Settings {
	s := model.DefaultSettings(businessID)
	if cfg.Calls.MaxConcurrent > 0 {
		s.MaxConcurrentCalls = cfg.Calls.MaxConcurrent
	}
	if cfg.Calls.PerRunLeadCap > 0 {
		s.PerRunLeadCap = cfg.Calls.PerRunLeadCap
	}
	return s
}
