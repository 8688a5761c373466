package audio

import "math"

// 4 阶 Butterworth 由两节二阶节级联而成
var butterworth4Q = [2]float64{0.54119610, 1.30656296}

type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func newHighPass(cutoff, rate, q float64) biquad {
	w0 := 2 * math.Pi * cutoff / rate
	alpha := math.Sin(w0) / (2 * q)
	cos := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: (1 + cos) / 2 / a0,
		b1: -(1 + cos) / a0,
		b2: (1 + cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

func newLowPass(cutoff, rate, q float64) biquad {
	w0 := 2 * math.Pi * cutoff / rate
	alpha := math.Sin(w0) / (2 * q)
	cos := math.Cos(w0)
	a0 := 1 + alpha
	return biquad{
		b0: (1 - cos) / 2 / a0,
		b1: (1 - cos) / a0,
		b2: (1 - cos) / 2 / a0,
		a1: -2 * cos / a0,
		a2: (1 - alpha) / a0,
	}
}

// apply 直接 II 型转置结构
func (f biquad) apply(in []float64) []float64 {
	out := make([]float64, len(in))
	var z1, z2 float64
	for i, x := range in {
		y := f.b0*x + z1
		z1 = f.b1*x - f.a1*y + z2
		z2 = f.b2*x - f.a2*y
		out[i] = y
	}
	return out
}

type cascade []biquad

func (c cascade) apply(in []float64) []float64 {
	out := in
	for _, section := range c {
		out = section.apply(out)
	}
	return out
}

// filtfilt 正反两次滤波得到零相位响应，两端做奇对称延拓以抑制边缘瞬态
func (c cascade) filtfilt(in []float64, pad int) []float64 {
	if len(in) <= pad {
		pad = len(in) - 1
	}
	if pad < 0 {
		return in
	}

	ext := make([]float64, 0, len(in)+2*pad)
	for i := pad; i > 0; i-- {
		ext = append(ext, 2*in[0]-in[i])
	}
	ext = append(ext, in...)
	last := len(in) - 1
	for i := 1; i <= pad; i++ {
		ext = append(ext, 2*in[last]-in[last-i])
	}

	y := c.apply(ext)
	reverse(y)
	y = c.apply(y)
	reverse(y)
	return y[pad : pad+len(in)]
}

func reverse(s []float64) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func butterworth(cutoff, rate float64, build func(cutoff, rate, q float64) biquad) cascade {
	c := make(cascade, 0, len(butterworth4Q))
	for _, q := range butterworth4Q {
		c = append(c, build(cutoff, rate, q))
	}
	return c
}

// padLength 延拓长度约为两个截止周期
func padLength(cutoff, rate float64) int {
	return max(3*(2*len(butterworth4Q)+1), int(2*rate/cutoff))
}

// highPass 4 阶零相位 Butterworth 高通
func highPass(samples []float64, cutoff, rate float64) []float64 {
	return butterworth(cutoff, rate, newHighPass).filtfilt(samples, padLength(cutoff, rate))
}

// lowPass 4 阶零相位 Butterworth 低通，用于降采样前抗混叠
func lowPass(samples []float64, cutoff, rate float64) []float64 {
	return butterworth(cutoff, rate, newLowPass).filtfilt(samples, padLength(cutoff, rate))
}
