package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/teilomillet/gollm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/martinemde/blockbot/agentloop"
	"github.com/martinemde/blockbot/commands"
	"github.com/martinemde/blockbot/config"
	"github.com/martinemde/blockbot/control"
	"github.com/martinemde/blockbot/envbridge"
	"github.com/martinemde/blockbot/logging"
	"github.com/martinemde/blockbot/safety"
	"github.com/martinemde/blockbot/stray"
	"github.com/martinemde/blockbot/unifiedllm"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the game and run the agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger, logPath, err := logging.New(cfg.Logging, opts.verbose)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if logPath != "" {
				logger.Info("logging to file", zap.String("path", logPath))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
}

// modelFor returns the first non-empty model, or the provider's default.
func modelFor(provider string, models ...string) string {
	for _, m := range models {
		if m != "" {
			return m
		}
	}
	return unifiedllm.DefaultModel(provider)
}

// newLLMClient registers one gollm adapter per provider in use, behind the
// shared pacing, timeout and observation middleware.
func newLLMClient(cfg *config.Config, logger *zap.Logger) (*unifiedllm.Client, error) {
	var mw []unifiedllm.Middleware
	if rpm := cfg.LLM.RequestsPerMinute; rpm > 0 {
		mw = append(mw, unifiedllm.RateLimit(rate.NewLimiter(rate.Limit(float64(rpm)/60), 1)))
	}
	mw = append(mw, unifiedllm.Timeout(cfg.GetLLMTimeout()), unifiedllm.Observe(logger.Named("llm")))

	client := unifiedllm.NewClient(
		unifiedllm.WithDefaultProvider(cfg.LLM.Provider),
		unifiedllm.WithMiddleware(mw...),
	)
	// A provider shared by several roles defaults to the first role's model.
	roles := []struct{ provider, model string }{
		{cfg.LLM.Provider, modelFor(cfg.LLM.Provider, cfg.LLM.Model)},
		{cfg.SafetyProvider(), modelFor(cfg.SafetyProvider(), cfg.Safety.Model)},
		{cfg.StrayProvider(), modelFor(cfg.StrayProvider(), cfg.Stray.Model)},
	}
	seen := map[string]bool{}
	for _, role := range roles {
		if seen[role.provider] {
			continue
		}
		seen[role.provider] = true
		adapter, err := unifiedllm.NewGollmAdapter(role.provider, cfg.APIKey(role.provider),
			unifiedllm.WithModel(role.model),
			unifiedllm.WithMaxTokens(cfg.LLM.MaxTokens),
			unifiedllm.WithTemperature(cfg.LLM.Temperature),
			unifiedllm.WithGollmOptions(gollm.SetTimeout(cfg.GetLLMTimeout())))
		if err != nil {
			return nil, err
		}
		client.RegisterProvider(role.provider, adapter)
	}
	return client, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	profile := agentloop.DefaultProfile(cfg.Agent.Name)
	if cfg.Agent.Profile != "" {
		var err error
		if profile, err = agentloop.LoadProfile(cfg.Agent.Profile, cfg.Agent.Name); err != nil {
			return err
		}
	}
	opts := agentloop.OptionsFromConfig(cfg, profile)
	logger = logger.With(zap.String("bot", opts.Name))

	client, err := newLLMClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	evaluator := safety.NewEvaluator(
		safety.NewLLMArbiter(client, cfg.SafetyProvider(), modelFor(cfg.SafetyProvider(), cfg.Safety.Model)),
		safety.WithBounds(safety.Bounds{
			Min: safety.Point{X: cfg.Safety.Min[0], Y: cfg.Safety.Min[1], Z: cfg.Safety.Min[2]},
			Max: safety.Point{X: cfg.Safety.Max[0], Y: cfg.Safety.Max[1], Z: cfg.Safety.Max[2]},
		}),
		safety.WithTimeout(cfg.GetSafetyTimeout()),
		safety.WithLogger(logger.Named("safety")),
	)

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	dialCtx, cancelDial := context.WithTimeout(ctx, cfg.GetDialTimeout())
	bridge, err := envbridge.Dial(dialCtx, cfg.Environment.URL,
		envbridge.WithLogger(logger.Named("env")),
		envbridge.WithCommandTimeout(cfg.GetCommandTimeout()))
	cancelDial()
	if err != nil {
		return err
	}
	defer bridge.Close()

	convModel := modelFor(cfg.LLM.Provider, profile.Model, cfg.LLM.Model)
	retry := unifiedllm.DefaultRetryPolicy()
	retry.MaxRetries = cfg.LLM.MaxRetries
	model := agentloop.NewLLMModel(client, agentloop.LLMModelConfig{
		Name:           opts.Name,
		Provider:       cfg.LLM.Provider,
		Model:          convModel,
		Temperature:    unifiedllm.Float64(cfg.LLM.Temperature),
		MaxTokens:      unifiedllm.Int(cfg.LLM.MaxTokens),
		ContextRetries: cfg.LLM.ContextRetries,
		Retry:          retry,
		Logger:         logger.Named("model"),
	})
	planner := agentloop.NewLLMPlanner(client, cfg.LLM.Provider, convModel)

	registry := commands.NewRegistry(logger.Named("commands"))
	registry.SetConsole(bridge)

	deps := agentloop.Deps{
		Env:      bridge,
		Executor: registry,
		Gate:     evaluator,
		Model:    model,
		Store:    store,
		Logger:   logger,
	}
	if cfg.Stray.Enabled {
		strayProvider := cfg.StrayProvider()
		strayModel := modelFor(strayProvider, cfg.Stray.Model)
		asker := stray.AskerFunc(func(ctx context.Context, prompt string) (string, error) {
			return unifiedllm.Ask(ctx, client, unifiedllm.AskOptions{
				Purpose:     unifiedllm.PurposeStray,
				Provider:    strayProvider,
				Model:       strayModel,
				Prompt:      prompt,
				Temperature: unifiedllm.Float64(0),
				MaxTokens:   unifiedllm.Int(300),
			})
		})
		deps.Stray = stray.NewExtractor(asker, evaluator, registry, logger.Named("stray"))
	}

	agent, err := agentloop.New(opts, deps)
	if err != nil {
		return err
	}
	registry.Register(commands.ControlCommands(agent)...)
	registry.Register(commands.ActionCommands(bridge, planner, evaluator, logger.Named("actions"))...)
	planner.UseHistory(agent.History)
	model.SetSystemPrompt(agent.SystemPrompt)

	srv := control.NewServer(agent, control.WithLogger(logger.Named("control")))

	// The control surface outlives neither the agent nor its event stream.
	ctrlCtx, stopControl := context.WithCancel(ctx)
	defer stopControl()
	var g errgroup.Group
	g.Go(func() error {
		for ev := range agent.Events() {
			logger.Debug("agent event", zap.String("kind", string(ev.Kind)), zap.Any("data", ev.Data))
			srv.Record(ev)
		}
		return nil
	})
	if cfg.Control.Addr != "" {
		g.Go(func() error { return srv.ListenAndServe(ctrlCtx, cfg.Control.Addr) })
	}

	runErr := agent.Run(ctx)
	stopControl()
	for purpose, u := range client.Usage() {
		logger.Info("model usage", zap.String("purpose", purpose),
			zap.Int("input_tokens", u.InputTokens),
			zap.Int("output_tokens", u.OutputTokens),
			zap.Int("total_tokens", u.TotalTokens))
	}
	if err := g.Wait(); err != nil {
		logger.Warn("control surface stopped with error", zap.Error(err))
	}
	if runErr != nil {
		return fmt.Errorf("agent %s: %w", opts.Name, runErr)
	}
	return nil
}
