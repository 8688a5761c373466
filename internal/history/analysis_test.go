package history

import (
	"math"
	"testing"
	"time"
)

func records(start time.Time, step time.Duration, scores ...float64) []Record {
	out := make([]Record, len(scores))
	for i, s := range scores {
		out[i] = Record{ID: string(rune('a' + i)), CreatedAt: start.Add(time.Duration(i) * step), Overall: s}
	}
	// 输入顺序与时间无关
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func TestAnalyzeProgress(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name        string
		scores      []float64
		limit       int
		wantTrend   string
		wantImprove float64
		wantCurrent float64
		wantCount   int
	}{
		{name: "rising", scores: []float64{60, 62, 70, 74}, wantTrend: "上升", wantImprove: 11, wantCurrent: 74, wantCount: 4},
		{name: "falling", scores: []float64{80, 78, 70, 72}, wantTrend: "下降", wantImprove: -8, wantCurrent: 72, wantCount: 4},
		{name: "stable", scores: []float64{80, 81, 80, 82}, wantTrend: "稳定", wantImprove: 0.5, wantCurrent: 82, wantCount: 4},
		{name: "odd count puts middle in second half", scores: []float64{70, 80, 90}, wantTrend: "上升", wantImprove: 15, wantCurrent: 90, wantCount: 3},
		{name: "limit keeps latest", scores: []float64{10, 10, 80, 84}, limit: 2, wantTrend: "上升", wantImprove: 4, wantCurrent: 84, wantCount: 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := AnalyzeProgress(records(start, time.Hour, tc.scores...), tc.limit)
			if got.Trend != tc.wantTrend || math.Abs(got.Improvement-tc.wantImprove) > 1e-9 ||
				got.Current != tc.wantCurrent || got.Attempts != tc.wantCount {
				t.Fatalf("AnalyzeProgress = %+v", got)
			}
		})
	}
}

func TestAnalyzeProgressSparse(t *testing.T) {
	if got := AnalyzeProgress(nil, 10); got.Message == "" || got.Attempts != 0 {
		t.Fatalf("empty progress = %+v", got)
	}

	got := AnalyzeProgress(records(time.Now(), time.Minute, 77), 10)
	if got.Attempts != 1 || got.Current != 77 || got.Message == "" {
		t.Fatalf("single progress = %+v", got)
	}
}

func TestSummarize(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		scores []float64
		want   string
	}{
		{name: "too few", scores: []float64{50, 90}, want: "数据不足"},
		{name: "clear progress", scores: []float64{60, 70, 80}, want: "明显进步"},
		{name: "steady", scores: []float64{70, 75, 73}, want: "稳步提升"},
		{name: "flat", scores: []float64{70, 60, 71}, want: "保持稳定"},
		{name: "slight drop", scores: []float64{74, 90, 70}, want: "略有下降"},
		{name: "drop", scores: []float64{80, 70, 60}, want: "需要加强"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Summarize(records(start, time.Hour, tc.scores...))
			if got.Trend != tc.want {
				t.Fatalf("trend = %q, want %q", got.Trend, tc.want)
			}
		})
	}
}

func TestSummarizeFields(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)
	got := Summarize(records(start, 24*time.Hour, 60, 90, 75, 80))

	if got.Attempts != 4 || got.Best != 90 || got.Worst != 60 || got.Recent != 80 || got.Average != 76.25 {
		t.Fatalf("summary = %+v", got)
	}
	if got.PracticeDays != 4 {
		t.Fatalf("practice days = %d", got.PracticeDays)
	}

	if empty := Summarize(nil); empty.Attempts != 0 || empty.Message == "" {
		t.Fatalf("empty summary = %+v", empty)
	}
}
