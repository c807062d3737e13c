package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/contestra/ai-ranker-sub001/grounding"
	"github.com/contestra/ai-ranker-sub001/policy"
	"github.com/contestra/ai-ranker-sub001/verify"
)

var errRunFailed = errors.New("grounding check failed")

type runFlags struct {
	runID       string
	provider    string
	model       string
	mode        string
	system      string
	country     string
	schemaFile  string
	temperature float64
	seed        int
	maxTokens   int
	raw         bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run [flags] PROMPT",
		Short: "Run one grounding check and print the result as JSON",
		Example: `  groundcheck run --provider openai --model gpt-4o --mode REQUIRED "What is the VAT rate in Germany?"
  groundcheck run --provider gemini --model gemini-2.5-pro --country DE --mode PREFERRED "Best tax software?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request(a, cmd, strings.Join(args, " "))
			if err != nil {
				return err
			}

			engine, err := a.engine()
			if err != nil {
				return err
			}
			res, err := engine.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			if !f.raw {
				res = res.Redacted()
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return err
			}
			if res.Status == verify.StatusFailed {
				return fmt.Errorf("%w: %s", errRunFailed, res.ErrorCode)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.runID, "run-id", "", "run id (default: random UUID)")
	flags.StringVarP(&f.provider, "provider", "p", "openai", "provider name")
	flags.StringVarP(&f.model, "model", "m", "", "model id")
	flags.StringVar(&f.mode, "mode", string(policy.ModeRequired), "grounding mode: OFF, PREFERRED or REQUIRED")
	flags.StringVar(&f.system, "system", "", "system instructions")
	flags.StringVar(&f.country, "country", "", "add the ambient block for this locale code")
	flags.StringVar(&f.schemaFile, "schema", "", "JSON Schema file the answer must match")
	flags.Float64Var(&f.temperature, "temperature", 0, "sampling temperature")
	flags.IntVar(&f.seed, "seed", 0, "sampling seed, where supported")
	flags.IntVar(&f.maxTokens, "max-tokens", 0, "output token cap")
	flags.BoolVar(&f.raw, "raw", false, "include the raw provider payload")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func (f *runFlags) request(a *app, cmd *cobra.Command, prompt string) (grounding.RunRequest, error) {
	req := grounding.RunRequest{
		RunID:    f.runID,
		Provider: f.provider,
		Model:    f.model,
		Mode:     policy.Mode(f.mode),
		System:   f.system,
		Prompt:   prompt,
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if cmd.Flags().Changed("temperature") {
		req.Temperature = &f.temperature
	}
	if cmd.Flags().Changed("seed") {
		req.Seed = &f.seed
	}
	if cmd.Flags().Changed("max-tokens") {
		req.MaxTokens = &f.maxTokens
	}

	if f.country != "" {
		builder, err := a.ambientBuilder()
		if err != nil {
			return req, err
		}
		block, err := builder.Build(f.country)
		if err != nil {
			return req, err
		}
		req.Ambient = block.Text
	}

	if f.schemaFile != "" {
		data, err := os.ReadFile(f.schemaFile)
		if err != nil {
			return req, fmt.Errorf("reading schema: %w", err)
		}
		req.Schema = &grounding.ResponseSchema{Schema: data}
	}
	return req, nil
}
