// Package grounding runs grounding checks: it resolves the tool policy for a
// request, composes and sends it through a fresh provider transport,
// normalizes the payload and returns a fail-closed verdict.
package grounding

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/contestra/ai-ranker-sub001/ambient"
	"github.com/contestra/ai-ranker-sub001/capability"
	"github.com/contestra/ai-ranker-sub001/compose"
	"github.com/contestra/ai-ranker-sub001/normalize"
	"github.com/contestra/ai-ranker-sub001/policy"
	"github.com/contestra/ai-ranker-sub001/provider"
	"github.com/contestra/ai-ranker-sub001/verify"
)

// DefaultTimeout bounds one provider call.
const DefaultTimeout = 60 * time.Second

// Engine runs grounding checks. It holds only immutable or atomically
// swapped configuration and is safe for concurrent use.
type Engine struct {
	providers    *provider.Registry
	capabilities *capability.Registry
	resolver     policy.Resolver
	timeout      time.Duration
	failOnLeak   bool
	logger       *slog.Logger
	validator    *validator.Validate
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCapabilities sets the capability registry. The default serves
// capability.DefaultRules.
func WithCapabilities(r *capability.Registry) Option {
	return func(e *Engine) {
		if r != nil {
			e.capabilities = r
		}
	}
}

// WithResolver sets the policy resolver.
func WithResolver(r policy.Resolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// WithTimeout sets the per-run provider call timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithFailOnAmbientLeak turns an ok run into failed/als_leak_detected when
// ambient phrases reappear in the output. Leaks are always recorded in
// AuditCodes either way.
func WithFailOnAmbientLeak(enabled bool) Option {
	return func(e *Engine) {
		e.failOnLeak = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock sets the time source used for latency.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New creates an Engine that builds transports from providers.
func New(providers *provider.Registry, opts ...Option) *Engine {
	e := &Engine{
		providers: providers,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		validator: validator.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.capabilities == nil {
		e.capabilities = capability.NewRegistry(nil, capability.WithLogger(e.logger))
	}
	return e
}

// Capabilities returns the capability registry in use.
func (e *Engine) Capabilities() *capability.Registry {
	return e.capabilities
}

// Providers returns the provider registry in use.
func (e *Engine) Providers() *provider.Registry {
	return e.providers
}

// Run performs one grounding check. Transport failures, timeouts and
// unsupported tool policies come back as failed results with a nil error.
// An error is returned only for a malformed request, an unknown provider or
// a transport that cannot be constructed, all before any network call.
func (e *Engine) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	c, err := e.validate(req)
	if err != nil {
		return RunResult{}, err
	}
	if !e.providers.IsRegistered(req.Provider) {
		return RunResult{}, fmt.Errorf("%w %q (available: %v)", ErrUnknownProvider, req.Provider, e.providers.Available())
	}
	transport, err := e.providers.Get(req.Provider)
	if err != nil {
		return RunResult{}, fmt.Errorf("creating %s transport: %w", req.Provider, err)
	}
	return e.run(ctx, c, transport), nil
}

func (e *Engine) run(ctx context.Context, req checked, transport provider.Provider) RunResult {
	tier := e.capabilities.Lookup(req.Provider, req.Model)
	decision, err := e.resolver.Resolve(req.mode, tier, req.ProvokerOverride)
	if err != nil {
		// validate already parsed the mode; this is unreachable in practice.
		decision = policy.Decision{Mode: req.mode, Tier: tier}
	}

	in := compose.Input{
		Model:       req.Model,
		System:      req.System,
		Ambient:     req.Ambient,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		Seed:        req.Seed,
		MaxTokens:   req.MaxTokens,
	}
	if req.Schema != nil {
		in.SchemaName = req.Schema.Name
		in.Schema = req.Schema.Schema
	}
	composed := compose.Compose(in, decision)

	ctx, span := startRunSpan(ctx, req.RunRequest, decision)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	start := e.now()
	resp, callErr := transport.Call(callCtx, composed)
	latency := e.now().Sub(start)
	code := classify(callCtx, callErr)
	cancel()

	var body []byte
	if resp != nil {
		body = resp.Body
	}
	norm := normalize.Normalize(req.Provider, body, normalize.Options{SchemaRequested: req.Schema != nil})

	schemaValid := false
	if norm.JSONValid != nil && *norm.JSONValid && req.validator != nil {
		schemaValid = req.validator.Validate(norm.Parsed) == nil
	}

	verdict := verify.Verify(verify.Input{
		Mode:            decision.Mode,
		Enforcement:     decision.Enforcement,
		ToolCallCount:   norm.ToolCallCount,
		TransportError:  code,
		SchemaRequested: req.Schema != nil,
		SchemaValid:     schemaValid,
	})

	result := RunResult{
		RunID:           req.RunID,
		ClientID:        req.ClientID,
		Provider:        req.Provider,
		Model:           req.Model,
		Status:          verdict.Status,
		ErrorCode:       verdict.ErrorCode,
		WhyNotGrounded:  verdict.WhyNotGrounded,
		Text:            norm.Text,
		ToolCallCount:   norm.ToolCallCount,
		FailedToolCalls: norm.FailedToolCalls,
		SearchQueries:   norm.SearchQueries,
		Citations:       norm.Citations,
		FinishReason:    norm.FinishReason,
		ModelVersion:    norm.ModelVersion,
		Usage:           norm.Usage,
		Parsed:          norm.Parsed,
		Enforcement: Enforcement{
			Mode:           decision.Mode,
			Enforcement:    decision.Enforcement,
			SoftRequired:   decision.SoftRequired(),
			ToolChoiceSent: sentToolChoice(composed),
			ProvokerHash:   decision.ProvokerHash,
			Tier:           tier,
		},
		Meta:    norm.Meta,
		Latency: latency,
		Raw:     rawPayload(body),
	}
	if req.Schema != nil {
		result.JSONValid = &schemaValid
	}
	if callErr != nil {
		result.TransportError = (&TransportError{Provider: req.Provider, Cause: callErr}).Error()
	}

	e.audit(ctx, req.RunRequest, &result)

	e.logger.Info("grounding run finished",
		"run_id", result.RunID,
		"provider", result.Provider,
		"model", result.Model,
		"mode", decision.Mode,
		"enforcement", decision.Enforcement,
		"status", result.Status,
		"error_code", result.ErrorCode,
		"tool_calls", result.ToolCallCount,
		"citations", len(result.Citations),
		"latency_ms", latency.Milliseconds(),
	)
	if callErr != nil {
		e.logger.Warn("grounding transport error", "run_id", result.RunID, "provider", result.Provider, "error", callErr)
	}

	setRunSpanResult(span, result)
	recordRunMetrics(ctx, result)
	return result
}

// sentToolChoice reports the directive that went on the wire. Transports
// send no tool choice when no tools are offered.
func sentToolChoice(req *provider.Request) provider.ToolChoice {
	if len(req.Tools) == 0 {
		return ""
	}
	return req.ToolChoice
}

// rawPayload keeps a JSON body as is and quotes anything else, such as a
// proxy's HTML error page, so the result always marshals.
func rawPayload(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, err := json.Marshal(string(body))
	if err != nil {
		return nil
	}
	return quoted
}

// audit runs the ambient leak check on the normalized text.
func (e *Engine) audit(ctx context.Context, req RunRequest, r *RunResult) {
	if req.Ambient == "" || r.Text == "" {
		return
	}
	leaks := ambient.DetectLeaks(req.Ambient, r.Text)
	if len(leaks) == 0 {
		return
	}
	r.LeakPhrases = leaks
	r.AuditCodes = append(r.AuditCodes, verify.CodeAmbientLeakDetected)
	recordLeaks(ctx, r.Provider, len(leaks))

	if e.failOnLeak && r.Status == verify.StatusOK {
		r.Status = verify.StatusFailed
		r.ErrorCode = verify.CodeAmbientLeakDetected
		r.WhyNotGrounded = fmt.Sprintf("ambient context echoed in output: %q", leaks[0])
	}
}
