package visualize

import (
	"fmt"
	"html"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
)

type charMark struct {
	severity evaluation.Severity
	errors   []evaluation.PhoneticError
}

// marks 把每个字映射到其最严重的错误等级，同一字多次出现时错误合并
func marks(words []evaluation.WordResult) map[rune]*charMark {
	out := make(map[rune]*charMark)
	for _, w := range words {
		if len(w.Errors) == 0 {
			continue
		}
		sev := w.MaxSeverity()
		for _, r := range w.Content {
			m, ok := out[r]
			if !ok {
				m = &charMark{}
				out[r] = m
			}
			if sev > m.severity {
				m.severity = sev
			}
			m.errors = append(m.errors, w.Errors...)
		}
	}
	return out
}

// Terminal 返回按错误等级着色的文本，无错误的字保持原样
func Terminal(text string, words []evaluation.WordResult) string {
	m := marks(words)
	var b strings.Builder
	for _, r := range text {
		if mark, ok := m[r]; ok {
			b.WriteString(SeverityStyle(mark.severity).Render(string(r)))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Legend 终端图例
func Legend() string {
	parts := make([]string, 0, 3)
	for _, s := range []evaluation.Severity{evaluation.SeverityMinor, evaluation.SeverityClear, evaluation.SeveritySevere} {
		parts = append(parts, SeverityStyle(s).Render("■")+" "+SeverityLabel(s))
	}
	return strings.Join(parts, "  ")
}

func phoneKind(e evaluation.PhoneticError) string {
	if e.IsVowel {
		return "韵母"
	}
	return "声母"
}

// HTML 生成带提示信息的 span 片段与图例
func HTML(text string, words []evaluation.WordResult) string {
	m := marks(words)

	var b strings.Builder
	b.WriteString(`<div class="twister-text">`)
	for _, r := range text {
		mark, ok := m[r]
		if !ok {
			b.WriteString(html.EscapeString(string(r)))
			continue
		}

		tips := make([]string, 0, len(mark.errors))
		for _, e := range mark.errors {
			tip := fmt.Sprintf("%s %s: %s", phoneKind(e), e.Phoneme, SeverityLabel(e.Severity))
			if e.Tone != "" {
				tip += " (" + e.Tone + ")"
			}
			tips = append(tips, tip)
		}
		fmt.Fprintf(&b, `<span class="%s" title="%s">%s</span>`,
			cssClass(mark.severity), html.EscapeString(strings.Join(tips, "; ")), html.EscapeString(string(r)))
	}
	b.WriteString(`</div>`)
	b.WriteString(htmlLegend)
	return b.String()
}

const htmlLegend = `<div class="twister-legend">` +
	`<span class="err-minor">轻微错误</span> ` +
	`<span class="err-clear">明显错误</span> ` +
	`<span class="err-severe">严重错误</span></div>`

// HTMLStyles 与 HTML 片段配套的样式表
const HTMLStyles = `.twister-text{font-size:24px;font-family:"Microsoft YaHei",SimHei,sans-serif}
.err-minor{color:#EAB308;font-weight:bold}
.err-clear{color:#EF4444;font-weight:bold}
.err-severe{color:#C026D3;font-weight:bold;text-decoration:underline}
.twister-legend{margin-top:16px;font-size:14px}`

// Page 包装为独立的 HTML 页面
func Page(title, text string, words []evaluation.WordResult) string {
	return "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>" + html.EscapeString(title) +
		"</title><style>" + HTMLStyles + "</style></head><body>" + HTML(text, words) + "</body></html>"
}

// Report 纯文本错误清单
func Report(text string, words []evaluation.WordResult) string {
	var lines []string
	lines = append(lines, "原文："+text)

	found := false
	for _, w := range words {
		if len(w.Errors) == 0 {
			continue
		}
		if !found {
			lines = append(lines, "", "具体错误：")
			found = true
		}
		head := "字：" + w.Content
		if w.Symbol != "" {
			head += "（标准拼音：" + w.Symbol + "）"
		}
		lines = append(lines, head)
		for _, e := range w.Errors {
			line := fmt.Sprintf("  - %s '%s' %s", phoneKind(e), e.Phoneme, SeverityLabel(e.Severity))
			if e.Tone != "" {
				line += "，声调：" + e.Tone
			}
			lines = append(lines, line)
		}
	}
	if !found {
		lines = append(lines, "", "未发现明显的发音错误")
	}
	return strings.Join(lines, "\n")
}

// Card 终端中的评测结果卡片
func Card(result evaluation.EvaluationResult) string {
	s := result.Score
	rows := []string{
		StyleHeader.Render(fmt.Sprintf("总分 %.1f  %s", result.Overall, result.Grade.Label())),
		Terminal(s.Text, s.Words),
		StyleMuted.Render(Legend()),
		"",
		fmt.Sprintf("发音 %.1f  流利度 %.1f  完整度 %.1f  声调 %.1f  语速 %.1f",
			s.Pronunciation, s.Fluency, s.Integrity, s.Tone, s.Speed),
		result.FeedbackSummary,
	}
	for _, f := range result.Feedback {
		rows = append(rows, "· "+f)
	}
	if len(result.Tips) > 0 {
		rows = append(rows, "", StyleGood.Render("建议"))
		for i, tip := range result.Tips {
			rows = append(rows, fmt.Sprintf("%d. %s", i+1, tip))
		}
	}
	return StyleBox.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
