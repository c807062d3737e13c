package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/contestra/ai-ranker-sub001/ambient"
	"github.com/contestra/ai-ranker-sub001/anthropic"
	"github.com/contestra/ai-ranker-sub001/capability"
	"github.com/contestra/ai-ranker-sub001/config"
	"github.com/contestra/ai-ranker-sub001/gemini"
	"github.com/contestra/ai-ranker-sub001/grounding"
	"github.com/contestra/ai-ranker-sub001/openai"
	"github.com/contestra/ai-ranker-sub001/policy"
	"github.com/contestra/ai-ranker-sub001/provider"
)

var version = "dev"

// app carries state shared by subcommands.
type app struct {
	cfgPath string
	cfg     *config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "groundcheck",
		Short:         "Verify that LLM answers were grounded by a live web search",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			// stdout belongs to command output and the MCP protocol.
			a.logger = cfg.Log.NewLogger(os.Stderr)
			slog.SetDefault(a.logger)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", os.Getenv("GROUNDCHECK_CONFIG"), "path to groundcheck.yaml")

	root.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newAmbientCmd(a),
		newCapabilitiesCmd(a),
		newScheduleCmd(a),
	)
	return root
}

// providers registers a factory per enabled provider. Credentials are only
// checked when a run builds its transport.
func (a *app) providers() *provider.Registry {
	reg := provider.NewRegistry()

	enabled := func(name string) (config.Provider, bool) {
		p := a.cfg.Providers[name]
		return p, p.IsEnabled()
	}

	if p, ok := enabled("openai"); ok {
		var opts []openai.Option
		if p.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(p.APIKey))
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		reg.Register("openai", openai.Factory(opts...))
	}
	if p, ok := enabled("anthropic"); ok {
		var opts []anthropic.Option
		if p.APIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(p.APIKey))
		}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		reg.Register("anthropic", anthropic.Factory(opts...))
	}
	if p, ok := enabled("gemini"); ok {
		var opts []gemini.Option
		if p.APIKey != "" {
			opts = append(opts, gemini.WithAPIKey(p.APIKey))
		}
		if p.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(p.BaseURL))
		}
		reg.Register("gemini", gemini.Factory(opts...))
	}
	return reg
}

func (a *app) capabilities() (*capability.Registry, error) {
	var table *capability.Table
	if a.cfg.Capabilities != "" {
		t, err := capability.LoadFile(a.cfg.Capabilities)
		if err != nil {
			return nil, fmt.Errorf("loading capabilities: %w", err)
		}
		table = t
	}
	return capability.NewRegistry(table, capability.WithLogger(a.logger)), nil
}

func (a *app) engine() (*grounding.Engine, error) {
	caps, err := a.capabilities()
	if err != nil {
		return nil, err
	}
	return grounding.New(a.providers(),
		grounding.WithCapabilities(caps),
		grounding.WithResolver(policy.Resolver{MaxToolUses: a.cfg.Engine.MaxToolUses}),
		grounding.WithTimeout(a.cfg.Engine.Timeout),
		grounding.WithFailOnAmbientLeak(a.cfg.Engine.FailOnAmbientLeak),
		grounding.WithLogger(a.logger),
	), nil
}

func (a *app) ambientBuilder() (*ambient.Builder, error) {
	return a.ambientBuilderWith()
}

func (a *app) ambientBuilderWith(extra ...ambient.Option) (*ambient.Builder, error) {
	opts := []ambient.Option{
		ambient.WithBudget(a.cfg.Ambient.Budget),
		ambient.WithWeather(a.cfg.Ambient.Weather),
	}
	if a.cfg.Ambient.LocalesFile != "" {
		data, err := os.ReadFile(a.cfg.Ambient.LocalesFile)
		if err != nil {
			return nil, fmt.Errorf("reading locales: %w", err)
		}
		locales, err := ambient.LoadLocales(data)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ambient.WithLocales(locales))
	}
	return ambient.NewBuilder(append(opts, extra...)...), nil
}

func (a *app) batchOptions() grounding.BatchOptions {
	return grounding.BatchOptions{
		Concurrency:   a.cfg.Batch.Concurrency,
		RatePerSecond: a.cfg.Batch.RatePerSecond,
		Burst:         a.cfg.Batch.Burst,
	}
}
