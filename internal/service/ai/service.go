package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"finreport/internal/config"
	"finreport/internal/logger"
	"finreport/internal/metrics"
	"finreport/internal/models"

	"go.uber.org/zap"
)

// GenerationConfig carries sampling settings. Nil or zero fields fall back
// to the gateway defaults.
type GenerationConfig struct {
	Temperature     *float32
	TopP            *float32
	TopK            int
	MaxOutputTokens int
}

// Options tune a single completion.
type Options struct {
	Model            string
	Generation       GenerationConfig
	EnableSearch     bool
	CachedContentRef string
}

// Prompt is either a single text prompt or a conversation: an optional
// system instruction, prior turns and the current user message.
type Prompt struct {
	Text    string
	System  string
	History []models.ChatMessage
	Message string
}

// TextPrompt builds the single prompt form used by the report templates.
func TextPrompt(text string) Prompt { return Prompt{Text: text} }

// PromptFromParts maps assembled prompt parts onto the conversation form.
// System parts become the system instruction, the last part is the current
// message and everything in between is forwarded as history.
func PromptFromParts(parts []models.PromptPart) Prompt {
	if len(parts) == 0 {
		return Prompt{}
	}
	if len(parts) == 1 {
		return Prompt{Text: parts[0].Text}
	}
	var p Prompt
	var system []string
	for _, part := range parts[:len(parts)-1] {
		if part.Priority == models.PrioritySystem || part.Role == models.RoleSystem {
			system = append(system, part.Text)
			continue
		}
		role := part.Role
		if role == "" {
			role = models.RoleUser
		}
		p.History = append(p.History, models.ChatMessage{Role: role, Content: part.Text})
	}
	p.System = strings.Join(system, "\n\n")
	p.Message = parts[len(parts)-1].Text
	return p
}

// Request is the provider-neutral call handed to a Backend. Messages only
// carry the user and model roles.
type Request struct {
	Model            string
	System           string
	Messages         []models.ChatMessage
	Generation       GenerationConfig
	EnableSearch     bool
	CachedContentRef string
}

// Reply is a backend response. BlockReason is set when the provider refused
// to answer.
type Reply struct {
	Text        string
	BlockReason string
}

// Backend performs the provider call.
type Backend interface {
	Name() string
	Generate(ctx context.Context, req *Request) (*Reply, error)
}

// TokenCounter is implemented by backends that can size prompts.
type TokenCounter interface {
	CountTokens(ctx context.Context, model string, parts []models.PromptPart) (int, error)
	InputTokenLimit(ctx context.Context, model string) (int, error)
}

var ErrCountUnsupported = errors.New("token counting not supported by backend")

// Gateway wraps a provider backend with defaults, rate limits and error mapping.
type Gateway struct {
	backend  Backend
	defaults Options
	limiter  *rateLimiter
}

// NewGateway binds a backend with the configured defaults and RPM/TPM limits.
func NewGateway(backend Backend, cfg config.LLMConfig) *Gateway {
	temp := float32(cfg.Temperature)
	topP := float32(cfg.TopP)
	return &Gateway{
		backend: backend,
		defaults: Options{
			Model: cfg.ModelName,
			Generation: GenerationConfig{
				Temperature:     &temp,
				TopP:            &topP,
				TopK:            cfg.TopK,
				MaxOutputTokens: cfg.MaxOutputTokens,
			},
		},
		limiter: newRateLimiter(cfg.RPMLimit, cfg.TPMLimit),
	}
}

// NewBackend builds the provider backend selected by LLM_PROVIDER.
func NewBackend(ctx context.Context, cfg config.LLMConfig) (Backend, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		return NewGeminiBackend(ctx, cfg)
	case "openai", "claude":
		return NewEinoBackend(ctx, cfg)
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
}

// Model is the default model name.
func (g *Gateway) Model() string { return g.defaults.Model }

// Complete submits the prompt and returns the reply text. Failures are
// always *LLMError.
func (g *Gateway) Complete(ctx context.Context, p Prompt, opts Options) (string, error) {
	opts = g.merge(opts)
	log := logger.FromContext(ctx).With(zap.String("model", opts.Model), zap.String("backend", g.backend.Name()))

	if err := validateGeneration(opts.Generation); err != nil {
		return "", err
	}
	req := &Request{
		Model:            opts.Model,
		System:           p.System,
		Generation:       opts.Generation,
		EnableSearch:     opts.EnableSearch,
		CachedContentRef: opts.CachedContentRef,
	}
	if p.Text != "" {
		req.Messages = []models.ChatMessage{{Role: models.RoleUser, Content: p.Text}}
	} else {
		for _, msg := range p.History {
			role, ok := msg.Role.ProviderRole()
			if !ok {
				continue
			}
			req.Messages = append(req.Messages, models.ChatMessage{Role: role, Content: msg.Content})
		}
		req.Messages = append(req.Messages, models.ChatMessage{Role: models.RoleUser, Content: p.Message})
	}

	if ok, reason := g.limiter.Allow(estimateRequest(req)); !ok {
		metrics.LLMRequests.WithLabelValues(opts.Model, string(KindRateLimited)).Inc()
		log.Warn("llm call rejected by local limiter", zap.String("reason", reason))
		return "", newLLMError(KindRateLimited, reason, nil)
	}

	start := time.Now()
	reply, err := g.backend.Generate(ctx, req)
	metrics.LLMDuration.WithLabelValues(opts.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		var llmErr *LLMError
		if !errors.As(err, &llmErr) {
			llmErr = newLLMError(KindInternal, "provider call failed", err)
		}
		metrics.LLMRequests.WithLabelValues(opts.Model, string(llmErr.Kind)).Inc()
		log.Error("llm call failed", zap.String("kind", string(llmErr.Kind)), zap.Error(err))
		return "", llmErr
	}

	if strings.TrimSpace(reply.Text) == "" {
		if reply.BlockReason != "" {
			metrics.LLMRequests.WithLabelValues(opts.Model, string(KindBlocked)).Inc()
			log.Warn("llm response blocked", zap.String("reason", reply.BlockReason))
			return "", newLLMError(KindBlocked, reply.BlockReason, nil)
		}
		log.Warn("llm returned an empty response")
		metrics.LLMRequests.WithLabelValues(opts.Model, "empty").Inc()
		return "", nil
	}
	metrics.LLMRequests.WithLabelValues(opts.Model, "ok").Inc()
	return reply.Text, nil
}

// CountTokens delegates to the backend counter.
func (g *Gateway) CountTokens(ctx context.Context, model string, parts []models.PromptPart) (int, error) {
	c, ok := g.backend.(TokenCounter)
	if !ok {
		return 0, ErrCountUnsupported
	}
	return c.CountTokens(ctx, g.modelOrDefault(model), parts)
}

// InputTokenLimit delegates to the backend counter.
func (g *Gateway) InputTokenLimit(ctx context.Context, model string) (int, error) {
	c, ok := g.backend.(TokenCounter)
	if !ok {
		return 0, ErrCountUnsupported
	}
	return c.InputTokenLimit(ctx, g.modelOrDefault(model))
}

func (g *Gateway) modelOrDefault(model string) string {
	if model == "" {
		return g.defaults.Model
	}
	return model
}

func (g *Gateway) merge(opts Options) Options {
	if opts.Model == "" {
		opts.Model = g.defaults.Model
	}
	d := g.defaults.Generation
	if opts.Generation.Temperature == nil {
		opts.Generation.Temperature = d.Temperature
	}
	if opts.Generation.TopP == nil {
		opts.Generation.TopP = d.TopP
	}
	if opts.Generation.TopK == 0 {
		opts.Generation.TopK = d.TopK
	}
	if opts.Generation.MaxOutputTokens == 0 {
		opts.Generation.MaxOutputTokens = d.MaxOutputTokens
	}
	return opts
}

func validateGeneration(g GenerationConfig) error {
	if g.Temperature != nil && (*g.Temperature < 0 || *g.Temperature > 1) {
		return newLLMError(KindBadRequest, "temperature must be within 0..1", nil)
	}
	if g.TopP != nil && (*g.TopP < 0 || *g.TopP > 1) {
		return newLLMError(KindBadRequest, "top_p must be within 0..1", nil)
	}
	if g.TopK < 0 {
		return newLLMError(KindBadRequest, "top_k must be at least 1", nil)
	}
	if g.MaxOutputTokens < 0 {
		return newLLMError(KindBadRequest, "max_output_tokens must be at least 1", nil)
	}
	return nil
}

func estimateRequest(req *Request) int {
	texts := make([]string, 0, len(req.Messages)+1)
	texts = append(texts, req.System)
	for _, m := range req.Messages {
		texts = append(texts, m.Content)
	}
	return estimateTokens(texts...)
}
