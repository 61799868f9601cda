// Package prompt builds the fixed analytical prompts selected by a chat trigger.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"finreport/internal/logger"

	"go.uber.org/zap"
)

// Section headers the model must reproduce verbatim.
const (
	HeaderA = "A. 週次與日期範圍:"
	HeaderB = "B. 「善甲狼」核心觀點摘要:"
	HeaderC = "C. 市場數據與總經背景:"
	HeaderD = "D. 專家觀點交叉分析:"
	HeaderE = "E. 綜合結論與風險提示:"
)

// SectionKeys is the fixed report order.
var SectionKeys = []string{"A", "B", "C", "D", "E"}

var sectionHeaders = map[string]string{
	"A": HeaderA, "B": HeaderB, "C": HeaderC, "D": HeaderD, "E": HeaderE,
}

// Expert is an analytical persona templated into the initial analysis.
type Expert struct {
	Name    string
	Summary string
}

// DefaultExperts is the built-in persona set.
var DefaultExperts = []Expert{
	{Name: "交易醫生", Summary: "以交易心理與部位控管為核心，檢視進出場紀律、停損設定與資金配置是否合理。"},
	{Name: "價值投資人", Summary: "關注企業基本面、估值與安全邊際，判斷市場情緒是否偏離內在價值。"},
	{Name: "總經觀察家", Summary: "從利率、通膨、就業與央行政策推演資金流向與景氣循環位置。"},
	{Name: "技術分析師", Summary: "以價格型態、均線、成交量與動能指標判讀趨勢強弱與關鍵價位。"},
	{Name: "風險管理師", Summary: "辨識尾端風險、相關性變化與流動性壓力，提出避險與情境應對。"},
}

// InitialAnalysisInput carries everything the initial analysis template embeds.
type InitialAnalysisInput struct {
	PostText        string
	DateRange       string
	ExternalData    any
	SelectedModules []string
	Experts         []Expert
}

// SelectExperts filters experts by the selected names. An empty selection, or
// one that matches nothing, yields the full set.
func SelectExperts(experts []Expert, selected []string) []Expert {
	if len(selected) == 0 {
		return experts
	}
	want := make(map[string]struct{}, len(selected))
	for _, name := range selected {
		want[strings.TrimSpace(name)] = struct{}{}
	}
	var out []Expert
	for _, e := range experts {
		if _, ok := want[e.Name]; ok {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		logger.Warn("selected modules matched no expert, using all experts",
			zap.Strings("selected_modules", selected))
		return experts
	}
	return out
}

// InitialAnalysis builds the weekly analysis prompt.
func InitialAnalysis(in InitialAnalysisInput) string {
	experts := in.Experts
	if experts == nil {
		experts = DefaultExperts
	}
	experts = SelectExperts(experts, in.SelectedModules)

	var b strings.Builder
	fmt.Fprintf(&b, "你是一位專業的財經研究員。請針對日期範圍「%s」，閱讀下方「善甲狼」的貼文，"+
		"結合提供的市場數據與專家觀點，撰寫一份結構化的週度分析報告。請全程使用繁體中文。\n\n", in.DateRange)

	b.WriteString("【貼文內容開始】\n")
	b.WriteString(strings.TrimSpace(in.PostText))
	b.WriteString("\n【貼文內容結束】\n\n")

	b.WriteString("【專家觀點模組】\n")
	for _, e := range experts {
		fmt.Fprintf(&b, "- %s：%s\n", e.Name, e.Summary)
	}
	b.WriteString("\n")

	if in.ExternalData != nil {
		b.WriteString("【外部市場數據】\n")
		b.WriteString(renderExternalData(in.ExternalData))
		b.WriteString("\n\n")
	}

	b.WriteString("請嚴格依照以下五個段落輸出，並原樣使用各段標題：\n\n")
	fmt.Fprintf(&b, "%s\n  - 標明分析所涵蓋的週次與起訖日期（%s）。\n\n", HeaderA, in.DateRange)
	fmt.Fprintf(&b, "%s\n  - 條列貼文的主要論點、提及的標的與操作方向。\n  - 僅根據貼文內容，不得自行臆測。\n\n", HeaderB)
	fmt.Fprintf(&b, "%s\n  - 引用外部數據中的最新數值與變化，說明與貼文論點的關聯。\n  - 若未提供數據，請註明「本期無外部數據」。\n\n", HeaderC)
	fmt.Fprintf(&b, "%s\n  - 逐一以上列專家的角度評論貼文觀點，指出共識與分歧。\n\n", HeaderD)
	fmt.Fprintf(&b, "%s\n  - 總結本週重點，列出三項需持續追蹤的指標與主要風險。\n  - 本報告僅供研究參考，不構成投資建議。\n", HeaderE)
	return b.String()
}

// renderExternalData pretty-prints data as JSON with unicode kept as-is.
func renderExternalData(data any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		logger.Warn("external data is not JSON serializable", zap.Error(err))
		return fmt.Sprintf("（注意：以下數據無法轉為 JSON，以原始格式呈現，內容可能不完整）\n%v", data)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// MissingSectionPlaceholder is substituted for a section that was not confirmed.
func MissingSectionPlaceholder(key string) string {
	return fmt.Sprintf("[%s節內容未提供]", key)
}

// FinalReportPreview assembles the confirmed sections A through E verbatim.
func FinalReportPreview(sections map[string]string) string {
	var b strings.Builder
	b.WriteString("以下是使用者已確認的報告段落。請將它們依 A 到 E 的順序原封不動地組合成最終報告預覽，" +
		"不得改寫、增刪、摘要或潤飾任何文字，也不得加入額外評論。\n\n")
	for _, key := range SectionKeys {
		text, ok := sections[key]
		if !ok || strings.TrimSpace(text) == "" {
			text = MissingSectionPlaceholder(key)
		}
		fmt.Fprintf(&b, "%s\n%s\n\n", sectionHeaders[key], strings.TrimSpace(text))
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
