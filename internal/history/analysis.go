package history

import (
	"sort"
)

// Progress 最近若干次练习的进步情况
type Progress struct {
	Attempts    int     `json:"attempts"`
	Current     float64 `json:"current"`
	Average     float64 `json:"average"`
	Best        float64 `json:"best"`
	Improvement float64 `json:"improvement"`
	Trend       string  `json:"trend"`
	Message     string  `json:"message,omitempty"`
}

// Summary 全部练习的统计
type Summary struct {
	Attempts     int     `json:"attempts"`
	Average      float64 `json:"average"`
	Best         float64 `json:"best"`
	Worst        float64 `json:"worst"`
	Recent       float64 `json:"recent"`
	PracticeDays int     `json:"practiceDays"`
	Trend        string  `json:"trend"`
	Message      string  `json:"message,omitempty"`
}

// chronological 按时间正序复制
func chronological(records []Record) []Record {
	out := append([]Record(nil), records...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func overalls(records []Record) []float64 {
	scores := make([]float64, len(records))
	for i, r := range records {
		scores[i] = r.Overall
	}
	return scores
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func maxOf(values []float64) float64 {
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
	}
	return best
}

func minOf(values []float64) float64 {
	worst := values[0]
	for _, v := range values[1:] {
		if v < worst {
			worst = v
		}
	}
	return worst
}

// AnalyzeProgress 取最近 limit 次（limit<=0 时默认 10 次），以后半段均分减前半段均分衡量进步
func AnalyzeProgress(records []Record, limit int) Progress {
	if limit <= 0 {
		limit = 10
	}
	ordered := chronological(records)
	if len(ordered) == 0 {
		return Progress{Message: "暂无历史记录"}
	}
	if len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}

	scores := overalls(ordered)
	if len(scores) < 2 {
		return Progress{
			Attempts: 1,
			Current:  scores[0],
			Average:  scores[0],
			Best:     scores[0],
			Trend:    "稳定",
			Message:  "需要更多练习记录才能分析进步情况",
		}
	}

	half := len(scores) / 2
	improvement := mean(scores[half:]) - mean(scores[:half])

	trend := "稳定"
	switch {
	case improvement > 2:
		trend = "上升"
	case improvement < -2:
		trend = "下降"
	}

	return Progress{
		Attempts:    len(scores),
		Current:     scores[len(scores)-1],
		Average:     mean(scores),
		Best:        maxOf(scores),
		Improvement: improvement,
		Trend:       trend,
	}
}

// Summarize 全量统计，趋势比较最早三分之一与最近三分之一的均分
func Summarize(records []Record) Summary {
	ordered := chronological(records)
	if len(ordered) == 0 {
		return Summary{Trend: "数据不足", Message: "暂无练习记录"}
	}

	scores := overalls(ordered)
	days := make(map[string]struct{})
	for _, r := range ordered {
		days[r.CreatedAt.Local().Format("2006-01-02")] = struct{}{}
	}

	return Summary{
		Attempts:     len(scores),
		Average:      mean(scores),
		Best:         maxOf(scores),
		Worst:        minOf(scores),
		Recent:       scores[len(scores)-1],
		PracticeDays: len(days),
		Trend:        trendOf(scores),
	}
}

func trendOf(scores []float64) string {
	if len(scores) < 3 {
		return "数据不足"
	}

	third := len(scores) / 3
	diff := mean(scores[len(scores)-third:]) - mean(scores[:third])

	switch {
	case diff > 5:
		return "明显进步"
	case diff > 2:
		return "稳步提升"
	case diff > -2:
		return "保持稳定"
	case diff > -5:
		return "略有下降"
	default:
		return "需要加强"
	}
}
