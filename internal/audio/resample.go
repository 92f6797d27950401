package audio

import (
	"encoding/binary"
	"math"
)

// Resampler converts frames of any supported format to signed 16-bit mono at
// a fixed target rate. It keeps interpolation state between calls, so each
// input stream needs its own Resampler.
type Resampler struct {
	target Format

	srcRate int
	prev    int16
	hasPrev bool
	pos     float64
	emitted int64

	aa *lowpass // set when downsampling
}

// NewResampler returns a resampler producing S16Mono(rate) frames.
func NewResampler(rate int) *Resampler {
	return &Resampler{target: S16Mono(rate)}
}

// Target returns the output format.
func (r *Resampler) Target() Format { return r.target }

// Reset drops the interpolation state.
func (r *Resampler) Reset() {
	r.srcRate = 0
	r.prev = 0
	r.hasPrev = false
	r.pos = 0
	r.aa = nil
}

// Resample converts f and returns the output frame. The returned frame may be
// empty when the input is too short to produce a sample at the target rate;
// the input is not lost, it is carried into the next call.
func (r *Resampler) Resample(f Frame) Frame {
	in := f.Format()
	if in.SampleRate != r.srcRate {
		r.Reset()
		r.srcRate = in.SampleRate
	}
	mono := downmix(f)

	var out []int16
	if in.SampleRate == r.target.SampleRate {
		out = mono
	} else {
		step := float64(in.SampleRate) / float64(r.target.SampleRate)
		if step > 1 {
			if r.aa == nil {
				r.aa = newLowpass(step)
			}
			mono = r.aa.apply(mono)
		}
		out = r.interpolate(mono, step)
	}

	payload := make([]byte, len(out)*2)
	for i, s := range out {
		binary.LittleEndian.PutUint16(payload[i*2:], uint16(s))
	}
	frame := Frame{format: r.target, pts: r.emitted, payload: payload}
	r.emitted += int64(len(out))
	return frame
}

func (r *Resampler) interpolate(mono []int16, step float64) []int16 {
	if len(mono) == 0 {
		return nil
	}
	src := mono
	if r.hasPrev {
		src = make([]int16, 0, len(mono)+1)
		src = append(src, r.prev)
		src = append(src, mono...)
	}

	out := make([]int16, 0, int(float64(len(src))/step)+1)
	for {
		i := int(r.pos)
		if i+1 >= len(src) {
			break
		}
		frac := r.pos - float64(i)
		v := float64(src[i])*(1-frac) + float64(src[i+1])*frac
		out = append(out, clamp16(v))
		r.pos += step
	}

	r.pos -= float64(len(src) - 1)
	r.prev = src[len(src)-1]
	r.hasPrev = true
	return out
}

// lowpass is a Hamming-windowed sinc FIR run ahead of decimation so content
// above the target Nyquist rate does not fold back into the output.
type lowpass struct {
	taps []float64
	hist []float64 // last len(taps)-1 input samples
}

func newLowpass(step float64) *lowpass {
	n := 8*int(math.Ceil(step)) + 1
	cutoff := 0.45 / step // cycles per input sample
	mid := float64(n-1) / 2
	taps := make([]float64, n)
	var sum float64
	for i := range taps {
		x := float64(i) - mid
		h := 2 * cutoff
		if x != 0 {
			h = math.Sin(2*math.Pi*cutoff*x) / (math.Pi * x)
		}
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		taps[i] = h * w
		sum += taps[i]
	}
	for i := range taps {
		taps[i] /= sum
	}
	return &lowpass{taps: taps}
}

func (l *lowpass) apply(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	if l.hist == nil {
		// Extend the first sample backwards so the stream starts without a ramp.
		l.hist = make([]float64, len(l.taps)-1)
		for i := range l.hist {
			l.hist[i] = float64(in[0])
		}
	}
	buf := make([]float64, 0, len(l.hist)+len(in))
	buf = append(buf, l.hist...)
	for _, v := range in {
		buf = append(buf, float64(v))
	}

	out := make([]int16, len(in))
	for i := range out {
		var acc float64
		for k, t := range l.taps {
			acc += t * buf[i+k]
		}
		out[i] = clamp16(acc)
	}
	copy(l.hist, buf[len(in):])
	return out
}

// downmix averages all channels into signed 16-bit samples.
func downmix(f Frame) []int16 {
	format := f.Format()
	block := format.BlockAlign()
	if block == 0 {
		return nil
	}
	n := len(f.payload) / block
	out := make([]int16, n)
	bps := format.BytesPerSample()
	for i := 0; i < n; i++ {
		var sum int
		for c := 0; c < format.Channels; c++ {
			off := i*block + c*bps
			sum += int(sampleAt(f.payload[off:off+bps], format))
		}
		out[i] = int16(sum / format.Channels)
	}
	return out
}

func sampleAt(b []byte, format Format) int16 {
	switch format.BitDepth {
	case 8:
		if format.Signed {
			return int16(int8(b[0])) << 8
		}
		return (int16(b[0]) - 128) << 8
	default:
		v := binary.LittleEndian.Uint16(b)
		if format.Signed {
			return int16(v)
		}
		return int16(int32(v) - 32768)
	}
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
