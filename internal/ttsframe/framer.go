// Package ttsframe turns synthesized speech into the fixed-size mu-law frames
// the telephony transport expects, resampling and chunking a tts.Provider's
// output stream.
package ttsframe

import (
	"context"

	"github.com/voxbench/callpipeline/pkg/audio"
	"github.com/voxbench/callpipeline/pkg/provider/tts"
)

// FrameSize is the telephony payload size: 160 bytes of mu-law, 20ms at 8kHz.
const FrameSize = 160

// SilenceByte is the mu-law encoding of zero amplitude, used to pad a
// trailing short frame.
const SilenceByte = 0xFF

// TelephonySampleRate is the sample rate the transport expects.
const TelephonySampleRate = 8000

// Framer synthesizes text into a sequence of telephony-ready mu-law frames.
type Framer struct {
	provider       tts.Provider
	voice          tts.VoiceProfile
	providerRateHz int
}

// New creates a Framer. providerRateHz is the sample rate the TTS provider's
// PCM output is encoded at (commonly 16000 or 24000); it is resampled down
// to 8kHz before mu-law encoding.
func New(provider tts.Provider, voice tts.VoiceProfile, providerRateHz int) *Framer {
	if providerRateHz <= 0 {
		providerRateHz = 16000
	}
	return &Framer{provider: provider, voice: voice, providerRateHz: providerRateHz}
}

// Synthesize renders text to speech and returns it as a sequence of
// FrameSize-byte mu-law chunks, the last one padded with SilenceByte if
// short. Returns an empty slice (not an error) if the provider produces no
// audio for text, matching the donor's empty-result handling.
func (f *Framer) Synthesize(ctx context.Context, text string) ([][]byte, error) {
	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := f.provider.SynthesizeStream(ctx, textCh, f.voice)
	if err != nil {
		return nil, err
	}

	var pcm []int16
	for chunk := range audioCh {
		pcm = append(pcm, audio.PCMBytesToInt16(chunk)...)
	}
	if len(pcm) == 0 {
		return nil, nil
	}

	if f.providerRateHz != TelephonySampleRate {
		pcm = audio.Resample(pcm, f.providerRateHz, TelephonySampleRate)
	}

	mulaw := audio.MulawEncode(pcm)
	return chunkWithPadding(mulaw, FrameSize, SilenceByte), nil
}

func chunkWithPadding(data []byte, size int, pad byte) [][]byte {
	var frames [][]byte
	for i := 0; i < len(data); i += size {
		end := i + size
		if end > len(data) {
			frame := make([]byte, size)
			copy(frame, data[i:])
			for j := len(data) - i; j < size; j++ {
				frame[j] = pad
			}
			frames = append(frames, frame)
			break
		}
		frames = append(frames, data[i:end])
	}
	return frames
}
