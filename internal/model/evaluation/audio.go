package evaluation

import (
	"encoding/binary"
	"fmt"
)

// 评测端点要求的音频格式
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
	TargetBitDepth   = 16
)

// AudioBuffer 线性 PCM 音频（小端序、交错存储）
type AudioBuffer struct {
	Data       []byte `json:"-"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bitDepth"`
}

// NewPCM16 包装一段 16 位 PCM 数据
func NewPCM16(data []byte, sampleRate, channels int) AudioBuffer {
	return AudioBuffer{
		Data:       data,
		SampleRate: sampleRate,
		Channels:   channels,
		BitDepth:   TargetBitDepth,
	}
}

// FromSamples 由 int16 采样构造缓冲区
func FromSamples(samples []int16, sampleRate, channels int) AudioBuffer {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return NewPCM16(data, sampleRate, channels)
}

// FrameSize 单帧字节数（所有声道各一个采样）
func (b AudioBuffer) FrameSize() int {
	return b.BitDepth / 8 * b.Channels
}

// Len 字节长度
func (b AudioBuffer) Len() int {
	return len(b.Data)
}

// Check 校验格式参数与长度不变量
func (b AudioBuffer) Check() error {
	if b.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", b.SampleRate)
	}
	if b.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", b.Channels)
	}
	if b.BitDepth != TargetBitDepth {
		return fmt.Errorf("unsupported bit depth %d", b.BitDepth)
	}
	if len(b.Data)%b.FrameSize() != 0 {
		return fmt.Errorf("buffer length %d is not a multiple of frame size %d", len(b.Data), b.FrameSize())
	}
	return nil
}

// FrameCount 每个声道的采样数
func (b AudioBuffer) FrameCount() int {
	if b.FrameSize() <= 0 {
		return 0
	}
	return len(b.Data) / b.FrameSize()
}

// Duration 时长（秒）
func (b AudioBuffer) Duration() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.FrameCount()) / float64(b.SampleRate)
}

// IsTarget 是否已是端点要求的格式
func (b AudioBuffer) IsTarget() bool {
	return b.SampleRate == TargetSampleRate && b.Channels == TargetChannels && b.BitDepth == TargetBitDepth
}

// Samples 返回交错存储的 int16 采样
func (b AudioBuffer) Samples() []int16 {
	samples := make([]int16, len(b.Data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b.Data[i*2:]))
	}
	return samples
}

// QualityVerdict 音频质量检查结果
type QualityVerdict struct {
	Valid        bool     `json:"valid"`
	Duration     float64  `json:"duration"`
	RMS          float64  `json:"rms"`
	Peak         float64  `json:"peak"`
	SilenceRatio float64  `json:"silenceRatio"`
	Issues       []string `json:"issues,omitempty"`
}
