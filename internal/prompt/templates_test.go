package prompt

import (
	"math"
	"strings"
	"testing"
)

func TestInitialAnalysisContainsSections(t *testing.T) {
	out := InitialAnalysis(InitialAnalysisInput{
		PostText:        "Mock post content",
		DateRange:       "2023-W50",
		ExternalData:    map[string]any{"m": []any{map[string]any{"date": "2023-12-01", "value": "100"}}},
		SelectedModules: []string{"交易醫生"},
	})
	for _, want := range []string{HeaderA, HeaderB, HeaderC, HeaderD, HeaderE, "2023-W50", "Mock post content", `"date": "2023-12-01"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("prompt missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "交易醫生") || strings.Contains(out, "技術分析師：") {
		t.Fatalf("expert filter not applied:\n%s", out)
	}
}

func TestSelectExpertsFallsBackToAll(t *testing.T) {
	if got := SelectExperts(DefaultExperts, []string{"不存在"}); len(got) != len(DefaultExperts) {
		t.Fatalf("expected fallback to all experts, got %d", len(got))
	}
	if got := SelectExperts(DefaultExperts, nil); len(got) != len(DefaultExperts) {
		t.Fatalf("empty selection should keep all experts")
	}
	if got := SelectExperts(DefaultExperts, []string{"交易醫生", "總經觀察家"}); len(got) != 2 {
		t.Fatalf("expected two experts, got %d", len(got))
	}
}

func TestExternalDataKeepsUnicodeAndFallsBack(t *testing.T) {
	out := renderExternalData(map[string]string{"名稱": "<台積電>"})
	if !strings.Contains(out, "名稱") || !strings.Contains(out, "<台積電>") {
		t.Fatalf("unicode or html escaped: %s", out)
	}
	out = renderExternalData(map[string]float64{"bad": math.NaN()})
	if !strings.Contains(out, "注意") || !strings.Contains(out, "NaN") {
		t.Fatalf("expected caveat fallback, got %s", out)
	}
}

func TestFinalReportPreviewOrdersAndFillsPlaceholders(t *testing.T) {
	out := FinalReportPreview(map[string]string{"C": "third", "A": "first"})
	a := strings.Index(out, "first")
	c := strings.Index(out, "third")
	if a < 0 || c < 0 || a > c {
		t.Fatalf("sections out of order:\n%s", out)
	}
	for _, key := range []string{"B", "D", "E"} {
		if !strings.Contains(out, "["+key+"節內容未提供]") {
			t.Fatalf("missing placeholder for %s:\n%s", key, out)
		}
	}
	if strings.Contains(out, "[A節內容未提供]") {
		t.Fatalf("present section replaced by placeholder")
	}
	if !strings.Contains(out, "不得改寫") {
		t.Fatalf("no-rewrite instruction missing")
	}
}
