package volume

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	fftSize   = 2048
	smoothing = 0.8
	minDB     = -100.0
	maxDB     = -10.0
	// bins kept for band computation, roughly 2.3-14 kHz at 48 kHz
	loBin = 100
	hiBin = 600
)

// analyser keeps a sliding window of samples and a smoothed magnitude
// spectrum. It is not safe for concurrent use.
type analyser struct {
	fft      *fourier.FFT
	window   []float64
	samples  []float64
	scratch  []float64
	coeffs   []complex128
	smoothed []float64
}

func newAnalyser() *analyser {
	ones := make([]float64, fftSize)
	for i := range ones {
		ones[i] = 1
	}
	return &analyser{
		fft:      fourier.NewFFT(fftSize),
		window:   window.Blackman(ones),
		samples:  make([]float64, fftSize),
		scratch:  make([]float64, fftSize),
		coeffs:   make([]complex128, fftSize/2+1),
		smoothed: make([]float64, fftSize/2+1),
	}
}

// push appends pcm to the window, dropping the oldest samples.
func (a *analyser) push(pcm []float32) {
	if len(pcm) >= fftSize {
		pcm = pcm[len(pcm)-fftSize:]
	}
	n := len(pcm)
	copy(a.samples, a.samples[n:])
	for i, v := range pcm {
		a.samples[fftSize-n+i] = float64(v)
	}
}

// update runs one FFT over the window and folds it into the smoothed spectrum.
func (a *analyser) update() {
	for i, v := range a.samples {
		a.scratch[i] = v * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)
	for i, c := range a.coeffs {
		mag := cmplx.Abs(c) / fftSize
		a.smoothed[i] = smoothing*a.smoothed[i] + (1-smoothing)*mag
	}
}

// bands reduces the kept bins to n averaged levels in [0, 1].
func (a *analyser) bands(n int) []float32 {
	bins := a.smoothed[loBin:hiBin]
	out := make([]float32, n)
	chunk := int(math.Ceil(float64(len(bins)) / float64(n)))
	for i := 0; i < n; i++ {
		start := i * chunk
		if start >= len(bins) {
			break
		}
		end := min(start+chunk, len(bins))
		var sum float64
		for _, mag := range bins[start:end] {
			sum += normalize(mag)
		}
		out[i] = float32(sum / float64(end-start))
	}
	return out
}

// normalize maps a linear magnitude to [0, 1] on a clamped dB scale.
func normalize(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	db = math.Max(minDB, math.Min(maxDB, db))
	return math.Sqrt(1 - (-db)/100)
}
