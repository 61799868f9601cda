package ai

import (
	"context"
	"fmt"
	"strings"

	"finreport/internal/config"
	"finreport/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
)

// Advertised input windows used when the provider offers no lookup.
var einoInputLimits = map[string]int{
	"openai": 128000,
	"claude": 200000,
}

// einoBackend serves the openai and claude providers. Search-enabled calls
// go through a react agent bound to the web search tool.
type einoBackend struct {
	provider   string
	chatModel  model.ToolCallingChatModel
	agent      *react.Agent
	inputLimit int
}

// NewEinoBackend builds an openai or claude chat model.
func NewEinoBackend(ctx context.Context, cfg config.LLMConfig) (Backend, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	provider := strings.ToLower(cfg.Provider)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.ModelName,
			APIKey:  cfg.APIKey,
		})
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		maxTokens := cfg.MaxOutputTokens
		if maxTokens <= 0 {
			maxTokens = 4096
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.ModelName,
			BaseURL:   baseURLPtr,
			MaxTokens: maxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	b := &einoBackend{provider: provider, chatModel: chatModel, inputLimit: einoInputLimits[provider]}
	if search := NewWebSearchTool(ctx, cfg.GoogleAPIKey, cfg.GoogleEngineID); search != nil {
		b.agent, err = react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: []tool.BaseTool{search},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
	}
	return b, nil
}

func (b *einoBackend) Name() string { return b.provider }

func (b *einoBackend) Generate(ctx context.Context, req *Request) (*Reply, error) {
	messages := make([]*schema.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, schema.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == models.RoleModel {
			messages = append(messages, schema.AssistantMessage(m.Content, nil))
		} else {
			messages = append(messages, schema.UserMessage(m.Content))
		}
	}
	opts := modelOptions(req)

	var (
		out *schema.Message
		err error
	)
	if req.EnableSearch && b.agent != nil {
		out, err = b.agent.Generate(ctx, messages, agent.WithComposeOptions(compose.WithChatModelOption(opts...)))
	} else {
		out, err = b.chatModel.Generate(ctx, messages, opts...)
	}
	if err != nil {
		return nil, mapEinoError(err)
	}
	reply := &Reply{Text: out.Content}
	if reply.Text == "" && out.ResponseMeta != nil && out.ResponseMeta.FinishReason == "content_filter" {
		reply.BlockReason = out.ResponseMeta.FinishReason
	}
	return reply, nil
}

func modelOptions(req *Request) []model.Option {
	var opts []model.Option
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}
	gen := req.Generation
	if gen.Temperature != nil {
		opts = append(opts, model.WithTemperature(*gen.Temperature))
	}
	if gen.TopP != nil {
		opts = append(opts, model.WithTopP(*gen.TopP))
	}
	if gen.MaxOutputTokens > 0 {
		opts = append(opts, model.WithMaxTokens(gen.MaxOutputTokens))
	}
	return opts
}

// CountTokens estimates locally; neither wrapper exposes a tokenizer.
func (b *einoBackend) CountTokens(_ context.Context, _ string, parts []models.PromptPart) (int, error) {
	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		texts = append(texts, p.Text)
	}
	return estimateTokens(texts...), nil
}

func (b *einoBackend) InputTokenLimit(context.Context, string) (int, error) {
	if b.inputLimit <= 0 {
		return 0, ErrCountUnsupported
	}
	return b.inputLimit, nil
}
