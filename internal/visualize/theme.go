package visualize

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
)

var (
	ColorMinor  = lipgloss.Color("#EAB308") // 黄
	ColorClear  = lipgloss.Color("#EF4444") // 红
	ColorSevere = lipgloss.Color("#C026D3") // 紫
	ColorGood   = lipgloss.Color("#22C55E")
	ColorMuted  = lipgloss.Color("#94A3B8")
	ColorAccent = lipgloss.Color("#7C3AED")
)

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	StyleMuted = lipgloss.NewStyle().
			Foreground(ColorMuted)

	StyleGood = lipgloss.NewStyle().
			Foreground(ColorGood)

	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1)
)

var severityStyles = map[evaluation.Severity]lipgloss.Style{
	evaluation.SeverityMinor:  lipgloss.NewStyle().Foreground(ColorMinor).Bold(true),
	evaluation.SeverityClear:  lipgloss.NewStyle().Foreground(ColorClear).Bold(true),
	evaluation.SeveritySevere: lipgloss.NewStyle().Foreground(ColorSevere).Bold(true).Underline(true),
}

// SeverityStyle 未知等级按明显错误处理
func SeverityStyle(s evaluation.Severity) lipgloss.Style {
	if style, ok := severityStyles[s]; ok {
		return style
	}
	return severityStyles[evaluation.SeverityClear]
}

// SeverityLabel 中文错误等级
func SeverityLabel(s evaluation.Severity) string {
	switch s {
	case evaluation.SeverityMinor:
		return "轻微错误"
	case evaluation.SeveritySevere:
		return "严重错误"
	default:
		return "明显错误"
	}
}

// cssClass HTML 中使用的样式类
func cssClass(s evaluation.Severity) string {
	switch s {
	case evaluation.SeverityMinor:
		return "err-minor"
	case evaluation.SeveritySevere:
		return "err-severe"
	default:
		return "err-clear"
	}
}
