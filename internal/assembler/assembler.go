package assembler

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"finreport/internal/models"
	"finreport/internal/prompt"
)

// TailRows is how many trailing rows of each external series are summarized.
const TailRows = 3

// Assemble orders the prompt parts of a chat request: system prompt, context
// (uploaded content, documents, external data, history), then the question.
// A trigger action replaces all of it with a single templated prompt.
func Assemble(systemPrompt string, req *models.ChatRequest, docs []models.Document) []models.PromptPart {
	if req.TriggerAction != models.TriggerNone {
		return []models.PromptPart{{
			Priority: models.PriorityUserQuestion,
			Role:     models.RoleUser,
			Label:    string(req.TriggerAction),
			Text:     TriggerPrompt(req),
		}}
	}

	var parts []models.PromptPart
	if s := strings.TrimSpace(systemPrompt); s != "" {
		parts = append(parts, models.PromptPart{
			Priority: models.PrioritySystem,
			Role:     models.RoleSystem,
			Label:    "system",
			Text:     s,
		})
	}

	ctx := req.Context
	if ctx.FileContent != nil && strings.TrimSpace(*ctx.FileContent) != "" {
		parts = append(parts, contextPart("file_content", documentBlock("uploaded content", *ctx.FileContent)))
	}
	for _, doc := range docs {
		parts = append(parts, contextPart("document:"+doc.FileID, documentBlock(doc.Filename, doc.Content)))
	}
	for _, source := range sortedKeys(ctx.ExternalData) {
		parts = append(parts, contextPart("external:"+source, externalSummary(source, ctx.ExternalData[source])))
	}
	for _, msg := range ctx.ChatHistory {
		role, ok := msg.Role.ProviderRole()
		if !ok || strings.TrimSpace(msg.Content) == "" {
			continue
		}
		parts = append(parts, models.PromptPart{
			Priority: models.PriorityContext,
			Role:     role,
			Label:    "history",
			Text:     msg.Content,
		})
	}

	parts = append(parts, models.PromptPart{
		Priority: models.PriorityUserQuestion,
		Role:     models.RoleUser,
		Label:    "question",
		Text:     req.UserMessage,
	})
	return parts
}

// TriggerPrompt renders the template selected by the request's trigger action.
func TriggerPrompt(req *models.ChatRequest) string {
	ctx := req.Context
	switch req.TriggerAction {
	case models.TriggerInitialAnalysis:
		in := prompt.InitialAnalysisInput{SelectedModules: ctx.SelectedModules}
		if ctx.FileContent != nil {
			in.PostText = *ctx.FileContent
		}
		if ctx.DateRangeForAnalysis != nil {
			in.DateRange = *ctx.DateRangeForAnalysis
		}
		if len(ctx.ExternalData) > 0 {
			in.ExternalData = ctx.ExternalData
		}
		return prompt.InitialAnalysis(in)
	case models.TriggerFinalReportPreview:
		return prompt.FinalReportPreview(ctx.ConfirmedSectionsForReport)
	default:
		return req.UserMessage
	}
}

func contextPart(label, text string) models.PromptPart {
	return models.PromptPart{
		Priority: models.PriorityContext,
		Role:     models.RoleUser,
		Label:    label,
		Text:     text,
	}
}

func documentBlock(name, content string) string {
	return fmt.Sprintf("--- Document: %s ---\n%s\n--- End of %s ---", name, strings.TrimSpace(content), name)
}

// externalSummary renders a source label and the tail of each series it carries.
// It understands fetch datasets ({series: {id: rows}}), maps of row lists and
// bare row lists.
func externalSummary(source string, value any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "External data source: %s\n", source)

	series := map[string][]any{}
	switch v := value.(type) {
	case []any:
		series[source] = v
	case map[string]any:
		if inner, ok := v["series"].(map[string]any); ok {
			v = inner
		}
		for id, rows := range v {
			if list, ok := rows.([]any); ok {
				series[id] = list
			}
		}
	}
	if len(series) == 0 {
		b.WriteString(compactJSON(value))
		return strings.TrimRight(b.String(), "\n")
	}

	ids := make([]string, 0, len(series))
	for id := range series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rows := series[id]
		start := len(rows) - TailRows
		if start < 0 {
			start = 0
		}
		fmt.Fprintf(&b, "Series %s (last %d of %d rows):\n", id, len(rows)-start, len(rows))
		for _, row := range rows[start:] {
			b.WriteString("  ")
			b.WriteString(rowText(row))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func rowText(row any) string {
	m, ok := row.(map[string]any)
	if !ok {
		return compactJSON(row)
	}
	date, hasDate := m["date"]
	if !hasDate {
		date, hasDate = m["Date"]
	}
	value, hasValue := m["value"]
	if !hasValue {
		value, hasValue = m["Value"]
	}
	if !hasDate || !hasValue {
		return compactJSON(row)
	}
	line := fmt.Sprintf("%v: %v", date, value)
	if fields, ok := m["fields"].(map[string]any); ok && len(fields) > 0 {
		line += " " + compactJSON(fields)
	}
	return line
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
