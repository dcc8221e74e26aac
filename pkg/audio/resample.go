package audio

import "math"

// Resample converts pcm from sampleRate to targetRate using polyphase
// filtering: upsample by an integer factor, low-pass filter, then downsample
// by an integer factor. up/down are reduced to lowest terms via gcd, matching
// the approach of scipy.signal.resample_poly.
//
// The telephony line runs 8kHz mu-law; STT and the VAD frontend want 16kHz
// PCM. Every inbound and outbound frame crosses this boundary.
func Resample(pcm []int16, sampleRate, targetRate int) []int16 {
	if sampleRate == targetRate || len(pcm) == 0 {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}

	g := gcd(sampleRate, targetRate)
	up := targetRate / g
	down := sampleRate / g

	taps := designLowpass(up, down)

	upsampled := make([]float64, len(pcm)*up)
	for i, s := range pcm {
		upsampled[i*up] = float64(s)
	}

	filtered := convolveSame(upsampled, taps)

	// Scale for the zero-stuffing gain introduced by upsampling.
	for i := range filtered {
		filtered[i] *= float64(up)
	}

	outLen := (len(pcm)*up + down - 1) / down
	out := make([]int16, 0, outLen)
	for i := 0; i < len(filtered); i += down {
		out = append(out, clampInt16(filtered[i]))
	}
	return out
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// designLowpass builds a windowed-sinc FIR low-pass filter sized for a
// polyphase up/down resampler. The cutoff is set to the more restrictive of
// the two Nyquist rates (up or down) to avoid both imaging and aliasing.
// halfTapsPerPhase controls filter length, trading transition sharpness for
// latency; 16 is more than sufficient at the up/down factors this pipeline
// ever sees (2:1 and 1:2 between 8kHz and 16kHz).
func designLowpass(up, down int) []float64 {
	const halfTapsPerPhase = 16

	maxFactor := up
	if down > maxFactor {
		maxFactor = down
	}
	cutoff := 1.0 / float64(maxFactor)

	numTaps := 2*halfTapsPerPhase*maxFactor + 1
	taps := make([]float64, numTaps)
	center := float64(numTaps-1) / 2

	for i := range taps {
		x := float64(i) - center
		taps[i] = sinc(cutoff*x) * cutoff * kaiser(x, center, 8.6)
	}
	return taps
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// kaiser evaluates a Kaiser window of the given beta at offset x from the
// window center (half-width center).
func kaiser(x, center, beta float64) float64 {
	if center == 0 {
		return 1
	}
	ratio := x / center
	arg := 1 - ratio*ratio
	if arg < 0 {
		arg = 0
	}
	return besselI0(beta*math.Sqrt(arg)) / besselI0(beta)
}

// besselI0 approximates the zeroth-order modified Bessel function via its
// power series. Good to double precision for the beta values used here.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0
	halfX := x / 2
	for k := 1; k < 25; k++ {
		term *= (halfX * halfX) / float64(k*k)
		sum += term
	}
	return sum
}

// convolveSame convolves signal with kernel and returns a result the same
// length as signal, centered to remove the group delay the filter introduces.
func convolveSame(signal, kernel []float64) []float64 {
	delay := len(kernel) / 2
	out := make([]float64, len(signal))
	for n := range out {
		var acc float64
		for k, kv := range kernel {
			si := n + delay - k
			if si < 0 || si >= len(signal) {
				continue
			}
			acc += signal[si] * kv
		}
		out[n] = acc
	}
	return out
}

func clampInt16(v float64) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(math.Round(v))
}
