package budget

import (
	"context"
	"math"

	"finreport/internal/logger"
	"finreport/internal/metrics"
	"finreport/internal/models"

	"go.uber.org/zap"
)

// DefaultLimitFactor keeps a safety margin under the advertised input window.
const DefaultLimitFactor = 0.90

// Counter is provided by the model backend.
type Counter interface {
	InputTokenLimit(ctx context.Context, model string) (int, error)
	CountTokens(ctx context.Context, model string, parts []models.PromptPart) (int, error)
}

// Fit drops the oldest context parts until the prompt fits the model window.
// The first and last parts are always kept and never split. Any counting
// failure returns the original parts untruncated.
func Fit(ctx context.Context, counter Counter, parts []models.PromptPart, model string, factor float64) ([]models.PromptPart, bool) {
	if len(parts) < 2 || counter == nil {
		return parts, false
	}
	if factor <= 0 || factor > 1 {
		factor = DefaultLimitFactor
	}
	log := logger.FromContext(ctx)

	limit, err := counter.InputTokenLimit(ctx, model)
	if err != nil || limit <= 0 {
		log.Warn("token limit unavailable, skipping truncation", zap.String("model", model), zap.Error(err))
		return parts, false
	}
	effective := int(math.Floor(float64(limit) * factor))

	total, err := counter.CountTokens(ctx, model, parts)
	if err != nil {
		log.Warn("token count failed, skipping truncation", zap.String("model", model), zap.Error(err))
		return parts, false
	}
	if total <= effective {
		return parts, false
	}

	head, tail := parts[0], parts[len(parts)-1]
	middle := append([]models.PromptPart(nil), parts[1:len(parts)-1]...)
	candidate := assemble(head, middle, tail)
	for total > effective && len(middle) > 0 {
		middle = middle[1:]
		candidate = assemble(head, middle, tail)
		total, err = counter.CountTokens(ctx, model, candidate)
		if err != nil {
			log.Warn("token recount failed, sending untruncated prompt", zap.String("model", model), zap.Error(err))
			return parts, false
		}
	}
	if total > effective {
		log.Warn("prompt still exceeds the token limit after truncation",
			zap.String("model", model), zap.Int("tokens", total), zap.Int("limit", effective))
	}
	metrics.PromptTruncations.Inc()
	log.Info("prompt truncated to fit model window",
		zap.String("model", model), zap.Int("kept_parts", len(candidate)), zap.Int("dropped_parts", len(parts)-len(candidate)))
	return candidate, true
}

func assemble(head models.PromptPart, middle []models.PromptPart, tail models.PromptPart) []models.PromptPart {
	out := make([]models.PromptPart, 0, len(middle)+2)
	out = append(out, head)
	out = append(out, middle...)
	return append(out, tail)
}
