package audio

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
)

// DecodeWAV 读取 WAV 数据为 16 位 PCM 缓冲区，保留原始采样率与声道数
func DecodeWAV(r io.Reader) (evaluation.AudioBuffer, error) {
	stream, format, err := wav.Decode(r)
	if err != nil {
		return evaluation.AudioBuffer{}, fmt.Errorf("decode wav: %w", err)
	}
	defer stream.Close()

	channels := format.NumChannels
	if channels < 1 || channels > 2 {
		return evaluation.AudioBuffer{}, fmt.Errorf("unsupported channel count %d", channels)
	}

	var samples []int16
	buf := make([][2]float64, 1024)
	for {
		n, ok := stream.Stream(buf)
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels; ch++ {
				samples = append(samples, floatToPCM(buf[i][ch], format.Precision))
			}
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return evaluation.AudioBuffer{}, fmt.Errorf("read wav samples: %w", err)
	}

	return evaluation.FromSamples(samples, int(format.SampleRate), channels), nil
}

// LoadWAV 从文件读取 WAV
func LoadWAV(path string) (evaluation.AudioBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return evaluation.AudioBuffer{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()
	return DecodeWAV(f)
}

// SaveWAV 将缓冲区写为 16 位 WAV 文件
func SaveWAV(path string, buf evaluation.AudioBuffer) error {
	if err := buf.Check(); err != nil {
		return err
	}
	if buf.Channels > 2 {
		return fmt.Errorf("unsupported channel count %d", buf.Channels)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	defer f.Close()

	format := beep.Format{
		SampleRate:  beep.SampleRate(buf.SampleRate),
		NumChannels: buf.Channels,
		Precision:   buf.BitDepth / 8,
	}
	if err := wav.Encode(f, &pcmStreamer{samples: buf.Samples(), channels: buf.Channels}, format); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	return nil
}

// pcmStreamer 按帧输出交错存储的 int16 采样
type pcmStreamer struct {
	samples  []int16
	channels int
	pos      int
}

func (p *pcmStreamer) Stream(buf [][2]float64) (int, bool) {
	frames := len(p.samples) / p.channels
	if p.pos >= frames {
		return 0, false
	}
	n := 0
	for n < len(buf) && p.pos < frames {
		left := pcmToFloat(p.samples[p.pos*p.channels])
		right := left
		if p.channels == 2 {
			right = pcmToFloat(p.samples[p.pos*p.channels+1])
		}
		buf[n][0], buf[n][1] = left, right
		n++
		p.pos++
	}
	return n, true
}

func (p *pcmStreamer) Err() error { return nil }

// beep 解码 16/24 位有符号采样时除以 1<<(8*precision)-1，8 位则映射到满量程 [-1, 1]
// 编码端乘 1<<15-1 后截断，两侧换算需互为逆运算，否则落盘再读回的幅度会变化

func floatToPCM(v float64, precision int) int16 {
	var s float64
	switch precision {
	case 2:
		s = math.Round(v * (1<<16 - 1))
	case 3:
		s = math.Round(v * (1<<24 - 1) / 256)
	default:
		s = math.Round(v * math.MaxInt16)
	}
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}

// pcmToFloat 加半个量化步长抵消编码端的截断
func pcmToFloat(s int16) float64 {
	switch {
	case s > 0:
		return (float64(s) + 0.5) / math.MaxInt16
	case s < 0:
		return (float64(s) - 0.5) / math.MaxInt16
	}
	return 0
}
