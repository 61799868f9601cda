package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"finreport/internal/apperr"
	"finreport/internal/fetcher"
	"finreport/internal/logger"
)

type dataFetchRequest struct {
	Source     string         `json:"source"`
	Parameters map[string]any `json:"parameters"`
}

func (h *Handler) fetchData(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req dataFetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.New(apperr.KindBadRequest, "invalid request body"))
		return
	}
	source := strings.ToLower(strings.TrimSpace(req.Source))
	if !h.fetchers.Supported(source) {
		respondError(c, apperr.Newf(apperr.KindBadRequest, "unsupported source %q, expected one of %s",
			req.Source, strings.Join(h.fetchers.Sources(), ", ")))
		return
	}
	if req.Parameters == nil {
		req.Parameters = map[string]any{}
	}
	if fetcher.Identifier(req.Parameters) == "" {
		respondError(c, apperr.New(apperr.KindBadRequest, "parameters must include symbol or series_id"))
		return
	}

	if h.cache != nil {
		cached, ok, err := h.cache.Get(ctx, source, req.Parameters)
		switch {
		case err != nil:
			log.Warn("cache lookup failed, fetching directly", zap.String("source", source), zap.Error(err))
		case ok:
			c.JSON(http.StatusOK, gin.H{
				"success":    true,
				"source":     source,
				"parameters": req.Parameters,
				"data":       cached,
				"message":    "served from cache",
				"is_cached":  true,
			})
			return
		}
	}

	ds, err := h.fetchers.Fetch(ctx, source, req.Parameters)
	if err != nil {
		respondError(c, err)
		return
	}
	raw, err := json.Marshal(ds)
	if err != nil {
		respondError(c, apperr.Wrap(apperr.KindInternal, "encode dataset failed", err))
		return
	}

	message := fmt.Sprintf("fetched %d series from %s", len(ds.Series), source)
	if ds.Empty() {
		message = fmt.Sprintf("%s returned no observations", source)
	} else if h.cache != nil {
		if err := h.cache.Set(ctx, source, req.Parameters, json.RawMessage(raw), h.cacheTTL); err != nil {
			log.Warn("cache store failed", zap.String("source", source), zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"source":     source,
		"parameters": req.Parameters,
		"data":       json.RawMessage(raw),
		"message":    message,
		"is_cached":  false,
	})
}
