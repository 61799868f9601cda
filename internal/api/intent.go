package api

import (
	"strings"
	"unicode"
)

// searchKeywords mark requests about fresh or external information.
var searchKeywords = []string{
	"search", "look up", "lookup", "google", "latest", "today", "tonight", "yesterday",
	"current", "currently", "recent", "recently", "news", "headline", "right now", "this week",
	"live", "breaking", "price of", "quote for",
	"搜尋", "搜索", "查詢", "查一下", "最新", "今天", "今日", "昨天", "目前", "現在",
	"近期", "最近", "新聞", "本週", "這週", "即時", "股價",
}

var interrogativeWords = map[string]struct{}{
	"what": {}, "who": {}, "when": {}, "where": {}, "why": {}, "how": {}, "which": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "does": {}, "did": {}, "do": {},
	"can": {}, "could": {}, "will": {}, "should": {},
}

var cjkInterrogatives = []string{"什麼", "什么", "誰", "何時", "哪", "為什麼", "为什么", "如何", "怎麼", "多少", "嗎", "吗"}

// needsWebSearch decides whether a free-form message should bind the web
// search tool: a freshness or lookup keyword, or a question mark together
// with an interrogative word.
func needsWebSearch(message string) bool {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return false
	}
	for _, kw := range searchKeywords {
		if strings.Contains(msg, kw) {
			if isASCIIWord(kw) && !containsWord(msg, kw) {
				continue
			}
			return true
		}
	}
	if !strings.ContainsAny(msg, "?？") {
		return false
	}
	for _, w := range strings.FieldsFunc(msg, func(r rune) bool { return !unicode.IsLetter(r) && r != '\'' }) {
		if _, ok := interrogativeWords[w]; ok {
			return true
		}
	}
	for _, w := range cjkInterrogatives {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// containsWord matches kw on word boundaries so "news" does not fire on "newsletter".
func containsWord(msg, kw string) bool {
	for idx := 0; idx < len(msg); {
		i := strings.Index(msg[idx:], kw)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(kw)
		before := start == 0 || !isWordByte(msg[start-1])
		after := end == len(msg) || !isWordByte(msg[end])
		if before && after {
			return true
		}
		idx = start + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
