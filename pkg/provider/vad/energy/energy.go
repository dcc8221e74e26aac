// Package energy provides a dependency-free voice activity detector based on
// RMS energy with frame-count hysteresis, for use when no ML VAD backend
// (Silero, WebRTC) is configured.
package energy

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/voxbench/callpipeline/pkg/provider/vad"
)

// ErrUnsupportedFrameSize is returned when a session is created with a frame
// size this engine cannot classify deterministically.
var ErrUnsupportedFrameSize = errors.New("energy: unsupported frame size")

// Engine is a vad.Engine backed by RMS-energy classification with
// consecutive-frame hysteresis, adapted from a threshold-based VAD design.
// It requires no external model and is the default VAD for CI and local runs.
type Engine struct {
	// MinConfirmedFrames is how many consecutive above-threshold frames are
	// required before a session reports VADSpeechStart. Zero uses the default
	// of 3 frames (~96ms at the 32ms window size spec §4.4 mandates).
	MinConfirmedFrames int
}

// NewSession creates a new RMS-energy VAD session for the given config.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("energy: invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, fmt.Errorf("energy: invalid frame size %dms", cfg.FrameSizeMs)
	}
	expectedSamples := cfg.SampleRate * cfg.FrameSizeMs / 1000
	if expectedSamples <= 0 {
		return nil, ErrUnsupportedFrameSize
	}

	minConfirmed := e.MinConfirmedFrames
	if minConfirmed <= 0 {
		minConfirmed = 3
	}

	threshold := cfg.SpeechThreshold
	if threshold <= 0 {
		threshold = 0.02
	}
	silenceThreshold := cfg.SilenceThreshold
	if silenceThreshold <= 0 || silenceThreshold > threshold {
		silenceThreshold = threshold * 0.7
	}

	return &session{
		expectedBytes:    expectedSamples * 2,
		speechThreshold:  threshold,
		silenceThreshold: silenceThreshold,
		minConfirmed:     minConfirmed,
	}, nil
}

var _ vad.Engine = (*Engine)(nil)

// session implements vad.SessionHandle. It classifies each fixed-size window
// independently by RMS energy and applies hysteresis across windows so that
// single-frame spikes (line noise, echo onset) don't flip speaking state.
type session struct {
	mu sync.Mutex

	expectedBytes    int
	speechThreshold  float64
	silenceThreshold float64
	minConfirmed     int

	speaking         bool
	consecutiveAbove int
	closed           bool
}

func (s *session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return vad.VADEvent{}, errors.New("energy: session closed")
	}
	if len(frame) != s.expectedBytes {
		return vad.VADEvent{}, fmt.Errorf("energy: frame size %d, want %d", len(frame), s.expectedBytes)
	}

	rms := rmsOf(frame)

	if rms >= s.speechThreshold {
		s.consecutiveAbove++
	} else {
		s.consecutiveAbove = 0
	}

	wasSpeaking := s.speaking

	switch {
	case !wasSpeaking && s.consecutiveAbove >= s.minConfirmed:
		s.speaking = true
		return vad.VADEvent{Type: vad.VADSpeechStart, Probability: rms}, nil
	case wasSpeaking && rms < s.silenceThreshold:
		s.speaking = false
		return vad.VADEvent{Type: vad.VADSpeechEnd, Probability: rms}, nil
	case s.speaking:
		return vad.VADEvent{Type: vad.VADSpeechContinue, Probability: rms}, nil
	default:
		return vad.VADEvent{Type: vad.VADSilence, Probability: rms}, nil
	}
}

func (s *session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.consecutiveAbove = 0
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ vad.SessionHandle = (*session)(nil)

// rmsOf computes the normalized RMS energy of a little-endian int16 PCM frame.
func rmsOf(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < len(frame)-1; i += 2 {
		sample := int16(uint16(frame[i]) | uint16(frame[i+1])<<8)
		f := float64(sample) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(n))
}

// IsSpeech reports whether a VADEvent represents an active-speech frame, the
// boolean signal spec §4.4 asks the VAD contract to ultimately produce.
func IsSpeech(ev vad.VADEvent) bool {
	return ev.Type == vad.VADSpeechStart || ev.Type == vad.VADSpeechContinue
}
