package assembler

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"finreport/internal/apperr"
	"finreport/internal/filestore"
	"finreport/internal/models"
	"finreport/internal/prompt"

	"github.com/xuri/excelize/v2"
)

func strPtr(s string) *string { return &s }

func TestAssembleOrdersParts(t *testing.T) {
	req := &models.ChatRequest{
		UserMessage: "What changed this week?",
		Context: models.ChatContext{
			FileContent: strPtr("pasted post"),
			ExternalData: map[string]any{
				"fred": map[string]any{
					"source": "fred",
					"series": map[string]any{
						"GDP": []any{
							map[string]any{"date": "2023-01-01", "value": "1"},
							map[string]any{"date": "2023-04-01", "value": "2"},
							map[string]any{"date": "2023-07-01", "value": "3"},
							map[string]any{"date": "2023-10-01", "value": "4"},
						},
					},
				},
			},
			ChatHistory: []models.ChatMessage{
				{Role: models.RoleUser, Content: "hi"},
				{Role: models.RoleSystem, Content: "dropped"},
				{Role: models.RoleAssistant, Content: "hello"},
			},
		},
	}
	docs := []models.Document{{FileID: "f1", Filename: "memo.txt", Content: "memo body"}}

	parts := Assemble("be precise", req, docs)
	labels := make([]string, len(parts))
	for i, p := range parts {
		labels[i] = p.Label
	}
	want := []string{"system", "file_content", "document:f1", "external:fred", "history", "history", "question"}
	if strings.Join(labels, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected order %v", labels)
	}
	if parts[0].Priority != models.PrioritySystem || parts[len(parts)-1].Priority != models.PriorityUserQuestion {
		t.Fatalf("head/tail priorities wrong")
	}
	if parts[5].Role != models.RoleModel {
		t.Fatalf("assistant should be normalized to model, got %s", parts[5].Role)
	}
	ext := parts[3].Text
	if strings.Contains(ext, "2023-01-01") || !strings.Contains(ext, "2023-10-01: 4") {
		t.Fatalf("expected the last three rows only:\n%s", ext)
	}
	if !strings.Contains(parts[2].Text, "memo.txt") || !strings.Contains(parts[2].Text, "memo body") {
		t.Fatalf("document block malformed: %s", parts[2].Text)
	}
}

func TestAssembleWithoutSystemPrompt(t *testing.T) {
	parts := Assemble("", &models.ChatRequest{UserMessage: "Hello, AI!"}, nil)
	if len(parts) != 1 || parts[0].Text != "Hello, AI!" {
		t.Fatalf("unexpected parts %+v", parts)
	}
}

func TestAssembleTriggerUsesTemplateOnly(t *testing.T) {
	req := &models.ChatRequest{
		UserMessage:   "ignored",
		TriggerAction: models.TriggerInitialAnalysis,
		Context: models.ChatContext{
			FileContent:          strPtr("Mock post content"),
			DateRangeForAnalysis: strPtr("2023-W50"),
			ChatHistory:          []models.ChatMessage{{Role: models.RoleUser, Content: "old turn"}},
		},
	}
	parts := Assemble("system text", req, nil)
	if len(parts) != 1 {
		t.Fatalf("trigger should produce a single part, got %d", len(parts))
	}
	text := parts[0].Text
	if !strings.Contains(text, prompt.HeaderA) || strings.Contains(text, "old turn") || strings.Contains(text, "system text") {
		t.Fatalf("unexpected trigger prompt:\n%s", text)
	}
}

func TestExternalSummaryShapes(t *testing.T) {
	out := externalSummary("m", []any{map[string]any{"date": "2023-12-01", "value": "100"}})
	if !strings.Contains(out, "External data source: m") || !strings.Contains(out, "2023-12-01: 100") {
		t.Fatalf("row list not summarized: %s", out)
	}
	out = externalSummary("misc", "plain")
	if !strings.Contains(out, `"plain"`) {
		t.Fatalf("scalar not rendered: %s", out)
	}
}

func TestResolverLoadsUploads(t *testing.T) {
	ctx := context.Background()
	store, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	txt, _ := store.Save(ctx, "notes.txt", "text/plain", strings.NewReader("weekly notes"))
	html, _ := store.Save(ctx, "page.html", "text/html", strings.NewReader("<html><script>x()</script><body><p>Rates rose</p></body></html>"))

	wb := excelize.NewFile()
	_ = wb.SetCellValue("Sheet1", "A1", "ticker")
	_ = wb.SetCellValue("Sheet1", "B1", "AAPL")
	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	xlsx, _ := store.Save(ctx, "book.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", &buf)

	r, err := NewResolver(ctx, store)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	all, err := r.CoreDocuments(ctx, &models.ChatContext{UploadedFiles: []models.FileRef{
		{FileID: txt.FileID, Filename: "notes.txt"},
		{FileID: html.FileID, Filename: "page.html"},
		{FileID: xlsx.FileID, Filename: "book.xlsx"},
	}})
	if err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(all))
	}
	if all[0].Content != "weekly notes" {
		t.Fatalf("text content wrong: %q", all[0].Content)
	}
	if !strings.Contains(all[1].Content, "Rates rose") || strings.Contains(all[1].Content, "x()") {
		t.Fatalf("html not cleaned: %q", all[1].Content)
	}
	if !strings.Contains(all[2].Content, "ticker\tAAPL") {
		t.Fatalf("xlsx not rendered: %q", all[2].Content)
	}

	selected, err := r.CoreDocuments(ctx, &models.ChatContext{
		UploadedFiles:         []models.FileRef{{FileID: txt.FileID, Filename: "notes.txt"}, {FileID: html.FileID, Filename: "page.html"}},
		SelectedCoreDocuments: []string{html.FileID},
	})
	if err != nil || len(selected) != 1 || selected[0].Filename != "page.html" {
		t.Fatalf("explicit selection not honored: %+v %v", selected, err)
	}

	_, err = r.Resolve(ctx, []models.FileRef{{FileID: "0123456789abcdef0123456789abcdef"}})
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestResolverMatchesExtensionsIgnoringCase(t *testing.T) {
	ctx := context.Background()
	store, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	html, err := store.Save(ctx, "PAGE.HTML", "text/html", strings.NewReader("<html><style>p{}</style><body><p>Yields fell</p></body></html>"))
	if err != nil {
		t.Fatalf("save html: %v", err)
	}
	wb := excelize.NewFile()
	_ = wb.SetCellValue("Sheet1", "A1", "cpi")
	_ = wb.SetCellValue("Sheet1", "B1", "3.1")
	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	xlsx, err := store.Save(ctx, "Macro.XLSX", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", &buf)
	if err != nil {
		t.Fatalf("save workbook: %v", err)
	}

	r, err := NewResolver(ctx, store)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	docs, err := r.Resolve(ctx, []models.FileRef{
		{FileID: html.FileID, Filename: "PAGE.HTML"},
		{FileID: xlsx.FileID, Filename: "Macro.XLSX"},
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].Content != "Yields fell" {
		t.Fatalf("upper-case html not parsed as html: %q", docs[0].Content)
	}
	if !strings.Contains(docs[1].Content, "cpi\t3.1") {
		t.Fatalf("upper-case xlsx not parsed as a workbook: %q", docs[1].Content)
	}
}
