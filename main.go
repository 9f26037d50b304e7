package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dmelendez/enerbot/agent/dispatch"
	enginex "github.com/dmelendez/enerbot/agent/engine"
	"github.com/dmelendez/enerbot/agent/insight"
	"github.com/dmelendez/enerbot/agent/llm"
	"github.com/dmelendez/enerbot/agent/prompt"
	sessionx "github.com/dmelendez/enerbot/agent/session"
	statex "github.com/dmelendez/enerbot/agent/state"
	toolx "github.com/dmelendez/enerbot/agent/tool"
	configx "github.com/dmelendez/enerbot/pkg/config"
	"github.com/dmelendez/enerbot/pkg/ghl"
	_ "github.com/dmelendez/enerbot/pkg/logger/autoload"
	"github.com/dmelendez/enerbot/server"
)

type AppConfig struct {
	MemoryBackend string `envconfig:"MEMORY_BACKEND" split_words:"true" default:"memory"` // memory | upstash | postgres
	SessionMode   string `envconfig:"SESSION_MODE" split_words:"true" default:"durable"`
	ProfilePath   string `envconfig:"PROFILE_PATH" split_words:"true"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := configx.MustNew[AppConfig]("")

	store := newStore(ctx, appCfg.MemoryBackend)

	profile := toolx.DefaultProfile()
	if appCfg.ProfilePath != "" {
		loaded, err := toolx.LoadProfile(appCfg.ProfilePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", appCfg.ProfilePath).Msg("loading business profile failed")
		}
		profile = loaded
	}

	ghlCfg := configx.MustNew[ghl.Config]("GHL")
	ghlClient, err := ghl.NewClient(*ghlCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("building ghl client failed")
	}

	llmCfg := configx.MustNew[llm.Config]("LLM")
	responder, err := llm.NewResponder(*llmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("building responder failed")
	}

	dispatcher, err := dispatch.NewStandardDispatcher(ghlClient, ghlClient, ghlClient, profile)
	if err != nil {
		log.Fatal().Err(err).Msg("building action dispatcher failed")
	}

	boundary, err := sessionx.NewBoundary(store, sessionx.Mode(appCfg.SessionMode))
	if err != nil {
		log.Fatal().Err(err).Msg("building session boundary failed")
	}

	prompts := prompt.LoadPromptSet()
	engineCfg := configx.MustNew[enginex.Config]("AGENT")

	var insights enginex.Recorder
	if engineCfg.EnableReflection {
		analyzer, err := insight.NewAnalyzer(*llmCfg, store, prompts.Reflection)
		if err != nil {
			log.Fatal().Err(err).Msg("building insight analyzer failed")
		}
		insights = analyzer
	}

	eng, err := enginex.New(*engineCfg, enginex.Deps{
		Boundary:  boundary,
		Responder: responder,
		Actions:   dispatcher,
		Messenger: ghlClient,
		Store:     store,
		Prompts:   prompts,
		Profile:   profile,
		Insights:  insights,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("building engine failed")
	}

	srvCfg := configx.MustNew[server.Config]("SERVER")
	srv := server.New(*srvCfg, eng)

	log.Info().
		Str("memory_backend", appCfg.MemoryBackend).
		Str("session_mode", appCfg.SessionMode).
		Str("port", srvCfg.Port).
		Msg("starting")
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("stopped")
}

func newStore(ctx context.Context, backend string) statex.Store {
	switch backend {
	case "", "memory":
		return statex.NewMemoryStore()
	case "upstash":
		cfg := configx.MustNew[statex.UpstashConfig]("UPSTASH")
		store, err := statex.NewUpstashStore(*cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("building upstash store failed")
		}
		return store
	case "postgres":
		cfg := configx.MustNew[statex.PostgresConfig]("POSTGRES")
		store, err := statex.NewPostgresStore(*cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("building postgres store failed")
		}
		if err := store.Init(ctx); err != nil {
			log.Fatal().Err(err).Msg("initializing postgres schema failed")
		}
		return store
	default:
		log.Fatal().Str("backend", backend).Msg("unknown memory backend")
		return nil
	}
}
