package audio

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

const (
	fullScale = 32767.0

	// 音量归一化目标为满量程的 30%
	targetRMSRatio = 0.3
	maxGain        = 3.0

	highPassCutoff = 80.0
	minFilterLen   = 100

	trimThresholdRatio = 0.05
	trimMargin         = 0.1 // 秒

	silenceRatioThreshold = 0.05
)

// Thresholds 质量检查阈值
type Thresholds struct {
	MinDuration     float64
	MaxDuration     float64
	MinRMS          float64
	MaxRMS          float64
	MaxSilenceRatio float64
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDuration:     0.5,
		MaxDuration:     30,
		MinRMS:          1000,
		MaxRMS:          20000,
		MaxSilenceRatio: 0.8,
	}
}

// Conditioner 将任意 PCM 音频调整为评测端点要求的格式并做质量检查
type Conditioner struct {
	thresholds Thresholds
	targetRate int
	logger     *zap.Logger
}

// NewConditioner 创建音频调理器
func NewConditioner(thresholds Thresholds, log *zap.Logger) *Conditioner {
	return &Conditioner{
		thresholds: thresholds,
		targetRate: evaluation.TargetSampleRate,
		logger:     logger.OrNop(log),
	}
}

// Validate 计算时长、音量、静音比例并给出有效性判断，不修改输入
func (c *Conditioner) Validate(buf evaluation.AudioBuffer) evaluation.QualityVerdict {
	verdict := evaluation.QualityVerdict{Valid: true}
	if err := buf.Check(); err != nil {
		verdict.Valid = false
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("音频格式无效: %v", err))
		return verdict
	}

	samples := toFloat(buf.Samples())
	verdict.Duration = buf.Duration()
	verdict.RMS = rms(samples)
	verdict.Peak = peak(samples)
	verdict.SilenceRatio = silenceRatio(samples, verdict.Peak)

	t := c.thresholds
	if verdict.Duration < t.MinDuration {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("录音时间过短（%.1f秒），至少需要%.1f秒", verdict.Duration, t.MinDuration))
	}
	if verdict.Duration > t.MaxDuration {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("录音时间过长（%.1f秒），最多%.0f秒", verdict.Duration, t.MaxDuration))
	}
	if verdict.RMS < t.MinRMS {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("音量过小（RMS %.0f），请靠近麦克风", verdict.RMS))
	}
	if verdict.RMS > t.MaxRMS {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("音量过大（RMS %.0f），可能存在削波失真", verdict.RMS))
	}
	if verdict.SilenceRatio > t.MaxSilenceRatio {
		verdict.Issues = append(verdict.Issues, fmt.Sprintf("静音部分过多（%.0f%%）", verdict.SilenceRatio*100))
	}

	verdict.Valid = len(verdict.Issues) == 0
	return verdict
}

// Normalize 下混为单声道并重采样到 16kHz；已是目标格式时原样返回
func (c *Conditioner) Normalize(buf evaluation.AudioBuffer) (evaluation.AudioBuffer, error) {
	if err := buf.Check(); err != nil {
		return buf, fmt.Errorf("normalize: %w", err)
	}
	if buf.IsTarget() {
		return buf, nil
	}

	mono := downmix(buf.Samples(), buf.Channels)
	if buf.SampleRate != c.targetRate {
		mono = resample(mono, buf.SampleRate, c.targetRate)
	}

	c.logger.Debug("audio normalized",
		zap.Int("source_rate", buf.SampleRate),
		zap.Int("source_channels", buf.Channels),
		zap.Int("samples", len(mono)),
	)
	return evaluation.FromSamples(toInt16(mono), c.targetRate, evaluation.TargetChannels), nil
}

// Preprocess 依次做音量归一化、80Hz 零相位高通滤波、首尾静音裁剪。
// 任一步骤失败时返回原始输入。
func (c *Conditioner) Preprocess(buf evaluation.AudioBuffer) (out evaluation.AudioBuffer) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("audio preprocess failed, using original audio", zap.Any("panic", r))
			out = buf
		}
	}()

	if err := buf.Check(); err != nil || buf.Channels != 1 {
		c.logger.Warn("audio preprocess skipped", zap.Int("channels", buf.Channels), zap.Error(err))
		return buf
	}

	samples := toFloat(buf.Samples())
	if len(samples) == 0 {
		return buf
	}

	samples = normalizeVolume(samples)
	if len(samples) >= minFilterLen {
		samples = highPass(samples, highPassCutoff, float64(buf.SampleRate))
	}
	samples = trimSilence(samples, int(trimMargin*float64(buf.SampleRate)))

	return evaluation.FromSamples(toInt16(samples), buf.SampleRate, 1)
}

func normalizeVolume(samples []float64) []float64 {
	current := rms(samples)
	if current == 0 {
		return samples
	}
	gain := math.Min(targetRMSRatio*fullScale/current, maxGain)
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = clip(s * gain)
	}
	return out
}

func trimSilence(samples []float64, margin int) []float64 {
	threshold := trimThresholdRatio * peak(samples)
	if threshold == 0 {
		return samples
	}

	first, last := -1, -1
	for i, s := range samples {
		if math.Abs(s) > threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return samples
	}

	start := max(0, first-margin)
	end := min(len(samples), last+margin+1)
	return samples[start:end]
}

func downmix(interleaved []int16, channels int) []float64 {
	if channels <= 1 {
		return toFloat(interleaved)
	}
	frames := len(interleaved) / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			sum += float64(interleaved[i*channels+ch])
		}
		out[i] = sum / float64(channels)
	}
	return out
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func peak(samples []float64) float64 {
	var p float64
	for _, s := range samples {
		if a := math.Abs(s); a > p {
			p = a
		}
	}
	return p
}

func silenceRatio(samples []float64, pk float64) float64 {
	if len(samples) == 0 || pk == 0 {
		return 1
	}
	threshold := silenceRatioThreshold * pk
	var silent int
	for _, s := range samples {
		if math.Abs(s) < threshold {
			silent++
		}
	}
	return float64(silent) / float64(len(samples))
}

func clip(v float64) float64 {
	if v > fullScale {
		return fullScale
	}
	if v < -fullScale {
		return -fullScale
	}
	return v
}

func toFloat(samples []int16) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}

func toInt16(samples []float64) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(math.Round(clip(s)))
	}
	return out
}
