package scoring

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
)

// Dimension 参与加权的评分维度
type Dimension string

const (
	DimensionPronunciation Dimension = "pronunciation"
	DimensionFluency       Dimension = "fluency"
	DimensionIntegrity     Dimension = "integrity"
	DimensionTone          Dimension = "tone"
)

// Label 维度中文名称
func (d Dimension) Label() string {
	switch d {
	case DimensionPronunciation:
		return "发音准确度"
	case DimensionFluency:
		return "流利度"
	case DimensionIntegrity:
		return "完整度"
	case DimensionTone:
		return "声调"
	default:
		return string(d)
	}
}

type dimensionScore struct {
	dimension Dimension
	value     float64
}

func dimensions(s evaluation.SentenceScore) []dimensionScore {
	return []dimensionScore{
		{DimensionPronunciation, s.Pronunciation},
		{DimensionFluency, s.Fluency},
		{DimensionIntegrity, s.Integrity},
		{DimensionTone, s.Tone},
	}
}

// Weakest 返回得分最低的维度，并列时取靠前的维度
func Weakest(s evaluation.SentenceScore) (Dimension, float64) {
	dims := dimensions(s)
	weakest := dims[0]
	for _, d := range dims[1:] {
		if d.value < weakest.value {
			weakest = d
		}
	}
	return weakest.dimension, weakest.value
}

const weakTipThreshold = 80

var dimensionTips = map[Dimension][]string{
	DimensionPronunciation: {
		"多听标准普通话发音，注意模仿",
		"可以使用拼音辅助，确认每个字的读音",
		"放慢语速，确保每个音都发准确",
	},
	DimensionFluency: {
		"先熟读文本，理解内容后再朗读",
		"注意语句间的自然停顿",
		"保持均匀的语速，避免忽快忽慢",
	},
	DimensionIntegrity: {
		"朗读前仔细看清每个字",
		"不要跳读或添加额外的字",
		"如果读错了，可以重新开始",
	},
	DimensionTone: {
		"注意中文的四个声调变化",
		"可以先练习单个字的声调",
		"听标准发音，注意声调的起伏",
	},
}

// 四/十/石/狮 一类相似音的经典绕口令
const classicTip = "这是经典的绕口令，重点练习相似音的区分"

const classicChars = "四十石狮"

var genericTips = []string{
	"建议每天练习10-15分钟",
	"可以录音对比，听听自己的发音",
	"从简单的绕口令开始练习",
}

func summary(grade evaluation.Grade, overall float64) string {
	switch grade {
	case evaluation.GradeExcellent:
		return fmt.Sprintf("太棒了！你的发音非常标准，总分%.1f分，继续保持！", overall)
	case evaluation.GradeGood:
		return fmt.Sprintf("很不错！你的发音基本准确，总分%.1f分，还有提升空间。", overall)
	case evaluation.GradeFair:
		return fmt.Sprintf("还可以！你的发音刚刚及格，总分%.1f分，需要多练习。", overall)
	default:
		return fmt.Sprintf("需要加油！总分%.1f分，发音还有很大改进空间，建议多听多练！", overall)
	}
}

func banded(value float64, high, mid, low string) string {
	switch {
	case value >= 85:
		return fmt.Sprintf(high, value)
	case value >= 70:
		return fmt.Sprintf(mid, value)
	default:
		return fmt.Sprintf(low, value)
	}
}

func detailedFeedback(s evaluation.SentenceScore) []string {
	feedback := []string{
		banded(s.Pronunciation,
			"发音准确度很高（%.1f分）",
			"发音基本准确（%.1f分），个别字音需要注意",
			"发音需要改进（%.1f分），建议多听标准发音"),
		banded(s.Fluency,
			"朗读很流利（%.1f分）",
			"朗读基本流利（%.1f分），注意语速和停顿",
			"朗读不够流利（%.1f分），建议多练习"),
		banded(s.Integrity,
			"朗读很完整（%.1f分）",
			"朗读基本完整（%.1f分）",
			"朗读不够完整（%.1f分），有遗漏或添加"),
		banded(s.Tone,
			"声调很准确（%.1f分）",
			"声调基本准确（%.1f分）",
			"声调需要改进（%.1f分），注意四声变化"),
	}

	if s.Duration > 0 {
		speed := Speed(s.Text, s.Duration)
		switch {
		case speed < idealSpeedMin:
			feedback = append(feedback, fmt.Sprintf("语速偏慢（%.1f字/秒），可以适当加快", speed))
		case speed > idealSpeedMax:
			feedback = append(feedback, fmt.Sprintf("语速偏快（%.1f字/秒），可以适当放慢", speed))
		default:
			feedback = append(feedback, fmt.Sprintf("语速合适（%.1f字/秒）", speed))
		}
	}

	if s.Rejected {
		feedback = append(feedback, "评测引擎判定本次朗读与文本不符，结果仅供参考")
	}
	return feedback
}

func tips(s evaluation.SentenceScore, overall float64) []string {
	var out []string

	if dim, value := Weakest(s); value < weakTipThreshold {
		out = append(out, dimensionTips[dim]...)
	}
	if strings.ContainsAny(s.Text, classicChars) {
		out = append(out, classicTip)
	}
	if overall < 70 {
		out = append(out, genericTips...)
	}

	if len(out) > MaxTips {
		out = out[:MaxTips]
	}
	return out
}

// AppendTips 追加额外建议（去重），总数不超过 MaxTips
func AppendTips(base []string, extra ...string) []string {
	out := append([]string(nil), base...)
	seen := make(map[string]bool, len(out))
	for _, t := range out {
		seen[t] = true
	}
	for _, t := range extra {
		t = strings.TrimSpace(t)
		if len(out) >= MaxTips {
			break
		}
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
