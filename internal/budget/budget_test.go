package budget

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"finreport/internal/models"
)

// wordCounter counts one token per rune and can fail after a number of calls.
type wordCounter struct {
	limit     int
	failAfter int
	calls     int
}

func (w *wordCounter) InputTokenLimit(context.Context, string) (int, error) {
	if w.limit == 0 {
		return 0, errors.New("model unknown")
	}
	return w.limit, nil
}

func (w *wordCounter) CountTokens(_ context.Context, _ string, parts []models.PromptPart) (int, error) {
	w.calls++
	if w.failAfter > 0 && w.calls > w.failAfter {
		return 0, errors.New("count failed")
	}
	n := 0
	for _, p := range parts {
		n += len([]rune(p.Text))
	}
	return n, nil
}

func makeParts(n, size int) []models.PromptPart {
	parts := make([]models.PromptPart, n)
	for i := range parts {
		text := fmt.Sprintf("%0*d", size, i)
		parts[i] = models.PromptPart{Priority: models.PriorityContext, Label: fmt.Sprint(i), Text: text}
	}
	parts[0].Priority = models.PrioritySystem
	parts[n-1].Priority = models.PriorityUserQuestion
	return parts
}

func TestFitWithinLimitUnchanged(t *testing.T) {
	parts := makeParts(4, 10)
	got, truncated := Fit(context.Background(), &wordCounter{limit: 100}, parts, "m", 0.9)
	if truncated || len(got) != 4 {
		t.Fatalf("expected untouched parts, got %d truncated=%v", len(got), truncated)
	}
}

func TestFitDropsOldestContextFirst(t *testing.T) {
	parts := makeParts(6, 10) // 60 tokens
	// limit 50 * 0.9 = 45 -> must drop two middle parts
	got, truncated := Fit(context.Background(), &wordCounter{limit: 50}, parts, "m", 0.9)
	if !truncated {
		t.Fatalf("expected truncation")
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 parts, got %d", len(got))
	}
	if got[0].Label != "0" || got[len(got)-1].Label != "5" {
		t.Fatalf("head or tail changed: %v ... %v", got[0].Label, got[len(got)-1].Label)
	}
	if got[1].Label != "3" {
		t.Fatalf("oldest context should go first, kept %s", got[1].Label)
	}
}

func TestFitHeadAndTailExceedLimit(t *testing.T) {
	parts := makeParts(3, 100)
	got, truncated := Fit(context.Background(), &wordCounter{limit: 10}, parts, "m", 0.9)
	if !truncated || len(got) != 2 {
		t.Fatalf("expected head and tail only, got %d truncated=%v", len(got), truncated)
	}
	if got[0].Text != parts[0].Text || got[1].Text != parts[2].Text {
		t.Fatalf("parts must not be split")
	}
}

func TestFitCountFailureAbandonsTruncation(t *testing.T) {
	parts := makeParts(5, 10)
	got, truncated := Fit(context.Background(), &wordCounter{limit: 20, failAfter: 1}, parts, "m", 0.9)
	if truncated || len(got) != 5 {
		t.Fatalf("expected original parts on recount failure, got %d truncated=%v", len(got), truncated)
	}
	got, truncated = Fit(context.Background(), &wordCounter{}, parts, "m", 0.9)
	if truncated || len(got) != 5 {
		t.Fatalf("expected original parts when limit unknown")
	}
}

func TestFitFewerThanTwoParts(t *testing.T) {
	parts := makeParts(1, 1000)
	parts[0].Priority = models.PriorityUserQuestion
	got, truncated := Fit(context.Background(), &wordCounter{limit: 1}, parts, "m", 0.9)
	if truncated || len(got) != 1 {
		t.Fatalf("single part must be returned unchanged")
	}
}
