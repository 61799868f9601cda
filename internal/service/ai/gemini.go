package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"finreport/internal/config"
	"finreport/internal/logger"
	"finreport/internal/models"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// permissiveCategories are the harm categories whose filter is switched off.
var permissiveCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

type geminiBackend struct {
	client *genai.Client
	safety []*genai.SafetySetting
	limits sync.Map // model name -> int
}

// NewGeminiBackend talks to the Gemini API through the genai client.
func NewGeminiBackend(ctx context.Context, cfg config.LLMConfig) (Backend, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("new genai client: %w", err)
	}
	b := &geminiBackend{client: client, safety: permissiveSafety()}

	names := make([]string, 0, len(permissiveCategories))
	for _, c := range permissiveCategories {
		names = append(names, string(c))
	}
	logger.Critical("llm safety filters disabled",
		zap.Strings("categories", names),
		zap.String("threshold", string(genai.HarmBlockThresholdBlockNone)))
	return b, nil
}

func permissiveSafety() []*genai.SafetySetting {
	out := make([]*genai.SafetySetting, 0, len(permissiveCategories))
	for _, c := range permissiveCategories {
		out = append(out, &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdBlockNone})
	}
	return out
}

func (b *geminiBackend) Name() string { return "gemini" }

func (b *geminiBackend) Generate(ctx context.Context, req *Request) (*Reply, error) {
	resp, err := b.client.Models.GenerateContent(ctx, req.Model, toContents(req.Messages), b.generateConfig(req))
	if err != nil {
		return nil, mapGenAIError(err)
	}
	reply := &Reply{Text: responseText(resp)}
	if reply.Text == "" {
		reply.BlockReason = blockReason(resp)
	}
	return reply, nil
}

func (b *geminiBackend) generateConfig(req *Request) *genai.GenerateContentConfig {
	gen := req.Generation
	cfg := &genai.GenerateContentConfig{
		Temperature:    gen.Temperature,
		TopP:           gen.TopP,
		SafetySettings: b.safety,
		CachedContent:  req.CachedContentRef,
	}
	if gen.TopK > 0 {
		cfg.TopK = genai.Ptr(float32(gen.TopK))
	}
	if gen.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(gen.MaxOutputTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.EnableSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}

func (b *geminiBackend) CountTokens(ctx context.Context, model string, parts []models.PromptPart) (int, error) {
	contents := make([]*genai.Content, 0, len(parts))
	for _, p := range parts {
		role := genai.RoleUser
		if p.Role == models.RoleModel || p.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(p.Text, genai.Role(role)))
	}
	resp, err := b.client.Models.CountTokens(ctx, model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return int(resp.TotalTokens), nil
}

func (b *geminiBackend) InputTokenLimit(ctx context.Context, model string) (int, error) {
	if v, ok := b.limits.Load(model); ok {
		return v.(int), nil
	}
	m, err := b.client.Models.Get(ctx, model, nil)
	if err != nil {
		return 0, fmt.Errorf("get model %s: %w", model, err)
	}
	if m.InputTokenLimit <= 0 {
		return 0, fmt.Errorf("model %s reports no input token limit", model)
	}
	limit := int(m.InputTokenLimit)
	b.limits.Store(model, limit)
	return limit, nil
}

func toContents(msgs []models.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == models.RoleModel {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, genai.Role(role)))
	}
	return out
}

// responseText joins the text parts of the first candidate, skipping thoughts.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func blockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if pf := resp.PromptFeedback; pf != nil && pf.BlockReason != "" && pf.BlockReason != genai.BlockedReasonUnspecified {
		if pf.BlockReasonMessage != "" {
			return fmt.Sprintf("%s: %s", pf.BlockReason, pf.BlockReasonMessage)
		}
		return string(pf.BlockReason)
	}
	if len(resp.Candidates) > 0 {
		switch fr := resp.Candidates[0].FinishReason; fr {
		case genai.FinishReasonSafety, genai.FinishReasonProhibitedContent, genai.FinishReasonBlocklist, genai.FinishReasonSPII:
			return string(fr)
		}
	}
	return ""
}
