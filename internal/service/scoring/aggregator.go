package scoring

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

// 理想语速区间（字/秒）
const (
	idealSpeedMin = 2.0
	idealSpeedMax = 4.0
)

// 上游总分与加权总分相差超过该值时以加权总分为准
const reconcileTolerance = 20.0

// MaxTips 建议条数上限
const MaxTips = 5

// Weights 各维度在总分中的权重，以百分比表示
type Weights struct {
	Pronunciation int
	Fluency       int
	Integrity     int
	Tone          int
}

// DefaultWeights 发音 50%，流利度 20%，完整度 15%，声调 15%
var DefaultWeights = Weights{Pronunciation: 50, Fluency: 20, Integrity: 15, Tone: 15}

// Aggregator 把解码后的分数转换为最终评测结果
type Aggregator struct {
	weights Weights
	logger  *zap.Logger
	now     func() time.Time
}

// NewAggregator 使用默认权重创建聚合器
func NewAggregator(log *zap.Logger) *Aggregator {
	return &Aggregator{
		weights: DefaultWeights,
		logger:  logger.OrNop(log).Named("scoring"),
		now:     time.Now,
	}
}

// Aggregate 计算语速分、加权总分、等级以及反馈与建议。
// decoded.Total 视为上游报告的总分，duration 为朗读时长（秒）。
func (a *Aggregator) Aggregate(decoded evaluation.SentenceScore, text string, duration float64) evaluation.EvaluationResult {
	score := decoded
	score.Text = text
	score.Duration = math.Max(duration, 0)
	score.Speed = SpeedScore(text, duration)

	computed := a.weights.Overall(score.Pronunciation, score.Fluency, score.Integrity, score.Tone)
	overall := Reconcile(decoded.Total, computed)
	if overall != decoded.Total {
		a.logger.Debug("overall score reconciled",
			zap.Float64("upstream", decoded.Total),
			zap.Float64("computed", computed),
		)
	}

	grade := GradeFor(overall)
	return evaluation.EvaluationResult{
		Score:           score,
		Overall:         overall,
		Grade:           grade,
		FeedbackSummary: summary(grade, overall),
		Feedback:        detailedFeedback(score),
		Tips:            tips(score, overall),
		CreatedAt:       a.now(),
		LowConfidence:   score.Rejected,
	}
}

// Overall 加权总分，四舍五入（远离零）到一位小数
func (w Weights) Overall(pronunciation, fluency, integrity, tone float64) float64 {
	// 按整数百分比累加后统一除以权重和
	sum := float64(w.Pronunciation)*pronunciation +
		float64(w.Fluency)*fluency +
		float64(w.Integrity)*integrity +
		float64(w.Tone)*tone
	total := w.Pronunciation + w.Fluency + w.Integrity + w.Tone
	if total <= 0 {
		return 0
	}
	return math.Round(sum*10/float64(total)) / 10
}

// Reconcile 上游总分为 0 或与加权总分相差超过 20 分时采用加权总分
func Reconcile(upstream, computed float64) float64 {
	if upstream == 0 || math.Abs(computed-upstream) > reconcileTolerance {
		return computed
	}
	return upstream
}

// GradeFor 按阈值从高到低匹配等级
func GradeFor(overall float64) evaluation.Grade {
	switch {
	case overall >= 95:
		return evaluation.GradeExcellent
	case overall >= 85:
		return evaluation.GradeGood
	case overall >= 75:
		return evaluation.GradeFair
	default:
		return evaluation.GradeNeedsImprovement
	}
}

// CountCJK 统计 CJK 统一表意文字个数
func CountCJK(text string) int {
	n := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FFF {
			n++
		}
	}
	return n
}

// Speed 每秒朗读字数，时长非正时为 0
func Speed(text string, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	return float64(CountCJK(text)) / duration
}

// SpeedScore 语速得分：2~4 字/秒为满分，过慢按比例扣分，过快每超出 100% 扣 50 分
func SpeedScore(text string, duration float64) float64 {
	if duration <= 0 || CountCJK(text) == 0 {
		return 0
	}

	speed := Speed(text, duration)
	switch {
	case speed < idealSpeedMin:
		return speed / idealSpeedMin * 100
	case speed > idealSpeedMax:
		return math.Max(0, 100-(speed-idealSpeedMax)/idealSpeedMax*50)
	default:
		return 100
	}
}
