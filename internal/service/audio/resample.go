package audio

import (
	"math"

	"github.com/gopxl/beep"
)

const (
	resampleQuality = 6
	// 抗混叠截止频率占目标采样率的比例
	antiAliasRatio = 0.45
)

// sliceStreamer 以 beep.Streamer 的形式输出单声道采样（归一化到 [-1,1]）
type sliceStreamer struct {
	samples []float64
	pos     int
}

func (s *sliceStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && s.pos < len(s.samples) {
		v := s.samples[s.pos] / 32768
		buf[n][0], buf[n][1] = v, v
		n++
		s.pos++
	}
	return n, true
}

func (s *sliceStreamer) Err() error { return nil }

// resample 将单声道采样从 from 转换到 to。降采样前先做低通滤波，
// 输出长度为 round(len*to/from)。
func resample(samples []float64, from, to int) []float64 {
	if from == to || len(samples) == 0 {
		return samples
	}

	if to < from && len(samples) > minFilterLen {
		samples = lowPass(samples, antiAliasRatio*float64(to), float64(from))
	}

	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	r := beep.Resample(resampleQuality, beep.SampleRate(from), beep.SampleRate(to), &sliceStreamer{samples: samples})

	out := make([]float64, 0, want)
	buf := make([][2]float64, 512)
	for len(out) < want {
		n, ok := r.Stream(buf)
		for i := 0; i < n && len(out) < want; i++ {
			out = append(out, buf[i][0]*32768)
		}
		if !ok || n == 0 {
			break
		}
	}
	for len(out) < want {
		out = append(out, 0)
	}
	return out
}
