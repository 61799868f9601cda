package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"finreport/internal/apperr"
	"finreport/internal/assembler"
	"finreport/internal/auth"
	"finreport/internal/budget"
	"finreport/internal/logger"
	"finreport/internal/metrics"
	"finreport/internal/models"
	"finreport/internal/service/ai"
	"finreport/internal/worker"
)

func (h *Handler) chat(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.Wrap(apperr.KindValidation, "invalid chat request body", err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	enableSearch := false
	var docs []models.Document
	if req.TriggerAction == models.TriggerNone {
		enableSearch = needsWebSearch(req.UserMessage)
		var err error
		docs, err = h.resolver.CoreDocuments(ctx, &req.Context)
		if err != nil {
			respondError(c, err)
			return
		}
	}
	if enableSearch {
		metrics.SearchTriggered.Inc()
	}

	parts := assembler.Assemble(h.prompt.Get(), &req, docs)
	parts, truncated := budget.Fit(ctx, h.gateway, parts, h.gateway.Model(), h.cfg.LLM.TokenLimitFactor)

	subject, _ := auth.SubjectFromContext(c)
	reply, err := h.complete(ctx, subject, ai.PromptFromParts(parts), ai.Options{EnableSearch: enableSearch})
	if err != nil {
		respondError(c, err)
		return
	}
	log.Info("chat completed",
		zap.String("trigger_action", string(req.TriggerAction)),
		zap.Int("documents", len(docs)),
		zap.Int("prompt_parts", len(parts)),
		zap.Bool("truncated", truncated),
		zap.Bool("web_search", enableSearch))
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"reply":     reply,
		"truncated": truncated,
	})
}

// complete runs the model call on the worker pool so each subject gets a
// fair share of the concurrent calls.
func (h *Handler) complete(ctx context.Context, subject string, prompt ai.Prompt, opts ai.Options) (string, error) {
	if h.llmPool == nil {
		return h.gateway.Complete(ctx, prompt, opts)
	}
	var reply string
	err := h.llmPool.Submit(ctx, subject, func(ctx context.Context) error {
		var err error
		reply, err = h.gateway.Complete(ctx, prompt, opts)
		return err
	})
	switch {
	case errors.Is(err, worker.ErrQueueFull):
		return "", apperr.New(apperr.KindLLMRateLimited, "too many pending model requests, retry later")
	case errors.Is(err, worker.ErrClosed):
		return "", apperr.New(apperr.KindLLMInternal, "server is shutting down")
	case err != nil:
		return "", err
	}
	return reply, nil
}
