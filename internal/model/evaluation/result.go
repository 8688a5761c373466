package evaluation

import (
	"encoding/json"
	"time"
)

// Severity 音素错误等级
type Severity int

const (
	SeverityMinor  Severity = 1
	SeverityClear  Severity = 2
	SeveritySevere Severity = 3
)

// Label 返回错误等级的描述
func (s Severity) Label() string {
	switch s {
	case SeverityMinor:
		return "minor"
	case SeverityClear:
		return "clear"
	case SeveritySevere:
		return "severe"
	default:
		return "unknown"
	}
}

// PhoneticError 单个音素的发音错误
type PhoneticError struct {
	Phoneme  string   `json:"phoneme"`
	Severity Severity `json:"severity"`
	IsVowel  bool     `json:"isVowel"`
	Tone     string   `json:"tone,omitempty"`
}

// WordResult 字词级评测结果，时间单位为端点的 10ms 帧
type WordResult struct {
	Content  string          `json:"content"`
	Symbol   string          `json:"symbol,omitempty"`
	BeginPos int             `json:"begPos"`
	EndPos   int             `json:"endPos"`
	Duration int             `json:"timeLen"`
	Errors   []PhoneticError `json:"errors,omitempty"`
}

// MaxSeverity 返回该字最严重的错误等级，无错误时为 0
func (w WordResult) MaxSeverity() Severity {
	var worst Severity
	for _, e := range w.Errors {
		if e.Severity > worst {
			worst = e.Severity
		}
	}
	return worst
}

// SentenceScore 句子级各维度得分，均位于 [0,100]
type SentenceScore struct {
	Text          string       `json:"text"`
	Pronunciation float64      `json:"pronunciation"`
	Fluency       float64      `json:"fluency"`
	Integrity     float64      `json:"integrity"`
	Tone          float64      `json:"tone"`
	Speed         float64      `json:"speed"`
	Accuracy      float64      `json:"accuracy"`
	Emotion       float64      `json:"emotion"`
	Total         float64      `json:"total"`
	Words         []WordResult `json:"words"`
	Duration      float64      `json:"duration"`
	Rejected      bool         `json:"rejected"`
	ExceptInfo    string       `json:"exceptInfo,omitempty"`
}

// Grade 等级
type Grade string

const (
	GradeExcellent        Grade = "excellent"
	GradeGood             Grade = "good"
	GradeFair             Grade = "fair"
	GradeNeedsImprovement Grade = "needs improvement"
)

// Label 中文等级名称
func (g Grade) Label() string {
	switch g {
	case GradeExcellent:
		return "优秀"
	case GradeGood:
		return "良好"
	case GradeFair:
		return "及格"
	default:
		return "需要改进"
	}
}

// EvaluationResult 一次完整评测的结果，创建后不再修改
type EvaluationResult struct {
	Score           SentenceScore     `json:"score"`
	Overall         float64           `json:"overall"`
	Grade           Grade             `json:"grade"`
	FeedbackSummary string            `json:"feedbackSummary"`
	Feedback        []string          `json:"feedback"`
	Tips            []string          `json:"tips"`
	CreatedAt       time.Time         `json:"createdAt"`
	LowConfidence   bool              `json:"lowConfidence"`
	NoResult        bool              `json:"noResult"`
	TwisterID       string            `json:"twisterId,omitempty"`
	SessionID       string            `json:"sessionId,omitempty"`
	Raw             []json.RawMessage `json:"raw,omitempty"`
}
